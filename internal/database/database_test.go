package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/catalog"
	"github.com/ksred/booking-api/internal/config"
	"github.com/ksred/booking-api/internal/timeslot"
)

func TestNewDatabaseRejectsUnknownDriver(t *testing.T) {
	_, err := NewDatabase(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, false)
	assert.Error(t, err)
}

func TestNewDatabaseMigratesAndSeeds(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "booking.db")

	db, err := NewDatabase(config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, false)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, m := range Models() {
		assert.True(t, db.Migrator().HasTable(m), "%T", m)
	}
	assert.True(t, db.Migrator().HasIndex("orders", "idx_orders_provider_status"))
	assert.True(t, db.Migrator().HasIndex("settlements", "idx_settlements_status_id"))

	authService := auth.NewService(db, "test-secret", time.Hour)
	require.NoError(t, Seed(ctx, db, authService))
	// Seeding twice leaves the first run's data alone.
	require.NoError(t, Seed(ctx, db, authService))

	var users int64
	require.NoError(t, db.Model(&auth.User{}).Count(&users).Error)
	assert.Equal(t, int64(3), users)

	provider, err := authService.GetUserByAPIKey(ctx, DemoProviderAPIKey)
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.Equal(t, auth.RoleProvider, provider.Role)
	assert.NotEmpty(t, provider.ProviderID)

	services, err := catalog.NewService(db).ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, provider.ProviderID, services[0].ProviderID)

	slots, err := timeslot.NewAllocator(db).ListAvailable(ctx, provider.ProviderID)
	require.NoError(t, err)
	assert.Len(t, slots, demoSlotCount)

	token, err := authService.GenerateToken(ctx, auth.Credentials{APIKey: DemoCustomerAPIKey, APISecret: DemoCustomerAPISecret})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleCustomer, token.Role)
}
