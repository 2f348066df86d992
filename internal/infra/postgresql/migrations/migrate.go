package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/tidepress/mail-dispatch/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_email_queue",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.QueuedEmailModel{}); err != nil {
					return err
				}
				indexes := []string{
					// Drain scans filter pending+due+under-limit, then order by priority/age.
					`CREATE INDEX IF NOT EXISTS idx_email_queue_due ON email_queue (scheduled_for, created_at) WHERE status = 'PENDING'`,
					`CREATE INDEX IF NOT EXISTS idx_email_queue_status_class ON email_queue (status, class)`,
					`CREATE INDEX IF NOT EXISTS idx_email_queue_submission_ref ON email_queue (submission_ref) WHERE submission_ref IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.QueuedEmailModel{})
			},
		},
		{
			ID: "000002_create_email_usage",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.DailyUsageModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DailyUsageModel{})
			},
		},
	})

	return m.Migrate()
}
