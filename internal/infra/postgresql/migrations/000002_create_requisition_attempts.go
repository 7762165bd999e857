package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
	"gorm.io/gorm"
)

func createRequisitionAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_requisition_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RequisitionAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_requisition_attempts_outcome_created ON requisition_attempts (outcome, created_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RequisitionAttemptModel{})
		},
	}
}
