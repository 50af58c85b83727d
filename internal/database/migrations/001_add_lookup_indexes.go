package migrations

import (
	"gorm.io/gorm"
)

// AddLookupIndexes covers the order and slot list queries.
func AddLookupIndexes(db *gorm.DB) error {
	indexes := []string{
		// Provider dashboards filter by status
		`CREATE INDEX IF NOT EXISTS idx_orders_provider_status
		 ON orders(provider_id, status)`,

		// Customer order history, newest first
		`CREATE INDEX IF NOT EXISTS idx_orders_customer_created_at
		 ON orders(customer_id, created_at)`,

		// Slot release counts the live orders holding a slot
		`CREATE INDEX IF NOT EXISTS idx_orders_slot_status
		 ON orders(time_slot_id, status)`,

		// Available slots are listed in start order
		`CREATE INDEX IF NOT EXISTS idx_time_slots_provider_start
		 ON time_slots(provider_id, start_time)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}
	return nil
}
