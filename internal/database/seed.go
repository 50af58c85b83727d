package database

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/catalog"
	"github.com/ksred/booking-api/internal/timeslot"
)

// Demo credentials created by Seed. The simulation client logs in with them.
const (
	DemoCustomerAPIKey    = "demo-customer-key"
	DemoCustomerAPISecret = "demo-customer-secret"
	DemoProviderAPIKey    = "demo-provider-key"
	DemoProviderAPISecret = "demo-provider-secret"
	DemoAdminAPIKey       = "demo-admin-key"
	DemoAdminAPISecret    = "demo-admin-secret"
)

const demoSlotCount = 24

// Seed creates a customer, a provider with one service and a day of hourly
// slots, and an admin. It does nothing once the demo customer exists.
func Seed(ctx context.Context, db *gorm.DB, authService *auth.Service) error {
	existing, err := authService.GetUserByAPIKey(ctx, DemoCustomerAPIKey)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Debug().Msg("demo data already seeded")
		return nil
	}

	catalogService := catalog.NewService(db)
	allocator := timeslot.NewAllocator(db)

	if _, err := authService.CreateUser(ctx, "Demo Customer", auth.RoleCustomer, DemoCustomerAPIKey, DemoCustomerAPISecret, ""); err != nil {
		return errors.Wrap(err, "seed customer")
	}
	if _, err := authService.CreateUser(ctx, "Demo Admin", auth.RoleAdmin, DemoAdminAPIKey, DemoAdminAPISecret, ""); err != nil {
		return errors.Wrap(err, "seed admin")
	}

	provider, err := catalogService.CreateProvider(ctx, "", "Demo Grooming Studio")
	if err != nil {
		return errors.Wrap(err, "seed provider")
	}
	providerUser, err := authService.CreateUser(ctx, "Demo Provider", auth.RoleProvider, DemoProviderAPIKey, DemoProviderAPISecret, provider.ProviderID)
	if err != nil {
		return errors.Wrap(err, "seed provider user")
	}
	if err := db.WithContext(ctx).Model(provider).Update("user_id", providerUser.UserID).Error; err != nil {
		return errors.Wrap(err, "link provider user")
	}

	offering, err := catalogService.CreateOffering(ctx, provider.ProviderID, "Haircut", decimal.RequireFromString("45.00"))
	if err != nil {
		return errors.Wrap(err, "seed service")
	}

	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	for i := 0; i < demoSlotCount; i++ {
		slotStart := start.Add(time.Duration(i) * time.Hour)
		if _, err := allocator.Create(ctx, provider.ProviderID, slotStart, slotStart.Add(time.Hour)); err != nil {
			return errors.Wrap(err, "seed time slot")
		}
	}

	log.Info().
		Str("provider_id", provider.ProviderID).
		Str("service_id", offering.ServiceID).
		Int("slots", demoSlotCount).
		Msg("seeded demo data")
	return nil
}
