package migrations

import (
	"gorm.io/gorm"
)

// AddSettlementIndexes supports the batch scan and provider summaries.
func AddSettlementIndexes(db *gorm.DB) error {
	indexes := []string{
		// The batch picks up PENDING rows in insertion order
		`CREATE INDEX IF NOT EXISTS idx_settlements_status_id
		 ON settlements(status, id)`,

		`CREATE INDEX IF NOT EXISTS idx_settlements_provider_created_at
		 ON settlements(provider_id, created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_settlement_batches_started_at
		 ON settlement_batches(started_at)`,

		`CREATE INDEX IF NOT EXISTS idx_refunds_status
		 ON refunds(status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}
	return nil
}
