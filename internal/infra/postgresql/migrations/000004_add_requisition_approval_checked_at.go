package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addRequisitionApprovalCheckedAt() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_requisition_approval_checked_at",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`ALTER TABLE requisitions ADD COLUMN IF NOT EXISTS approval_checked_at timestamptz`,
				`DROP INDEX IF EXISTS idx_requisitions_submitted`,
				`CREATE INDEX IF NOT EXISTS idx_requisitions_submitted ON requisitions (approval_checked_at NULLS FIRST, updated_at) WHERE status = 'SUBMITTED'`,
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
				`CREATE INDEX IF NOT EXISTS idx_requisitions_submitted ON requisitions (updated_at) WHERE status = 'SUBMITTED'`,
				`ALTER TABLE requisitions DROP COLUMN IF EXISTS approval_checked_at`,
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
