package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
	"gorm.io/gorm"
)

func createBatchesAndRequisitionsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_batches_and_requisitions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchModel{}, &repository.RequisitionModel{}); err != nil {
				return err
			}
			if !tx.Migrator().HasConstraint(&repository.BatchModel{}, "Requisitions") {
				if err := tx.Migrator().CreateConstraint(&repository.BatchModel{}, "Requisitions"); err != nil {
					return err
				}
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batches_status_created ON batches (status, created_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RequisitionModel{}, &repository.BatchModel{})
		},
	}
}
