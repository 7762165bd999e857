package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addRequisitionRetryIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_requisition_retry_indexes",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_requisitions_retry_due ON requisitions (next_retry_at) WHERE status = 'FAILED' AND retryable`,
				`CREATE INDEX IF NOT EXISTS idx_requisitions_submitted ON requisitions (updated_at) WHERE status = 'SUBMITTED'`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_requisitions_submitted`,
				`DROP INDEX IF EXISTS idx_requisitions_retry_due`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
