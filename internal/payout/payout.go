package payout

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for zero or negative payouts.
var ErrInvalidAmount = errors.New("payout amount must be positive")

// Rail represents a mock payout rail
type Rail struct {
	ID          string
	Name        string
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability of a successful transfer
	Weight      float64 // relative share of traffic routed to this rail
}

var defaultRails = []*Rail{
	{
		ID:          "ACH",
		Name:        "ACH Transfer",
		MinLatency:  5,
		MaxLatency:  30,
		SuccessRate: 1,
		Weight:      0.6,
	},
	{
		ID:          "RTP",
		Name:        "Real-Time Payments",
		MinLatency:  1,
		MaxLatency:  10,
		SuccessRate: 1,
		Weight:      0.3,
	},
	{
		ID:          "WIRE",
		Name:        "Wire Transfer",
		MinLatency:  10,
		MaxLatency:  50,
		SuccessRate: 1,
		Weight:      0.1,
	},
}

// SimulatedGateway settles payouts against in-memory rails.
type SimulatedGateway struct {
	rails       []*Rail
	failureRate float64
	latency     bool

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a SimulatedGateway.
type Option func(*SimulatedGateway)

// WithFailureRate makes each payout fail with probability rate on top of the
// rail's own success rate.
func WithFailureRate(rate float64) Option {
	return func(g *SimulatedGateway) {
		g.failureRate = rate
	}
}

// WithLatency sleeps for each rail's simulated latency.
func WithLatency() Option {
	return func(g *SimulatedGateway) {
		g.latency = true
	}
}

// WithSeed makes rail selection and failures reproducible.
func WithSeed(seed int64) Option {
	return func(g *SimulatedGateway) {
		g.rng = rand.New(rand.NewSource(seed))
	}
}

func NewSimulatedGateway(opts ...Option) *SimulatedGateway {
	g := &SimulatedGateway{
		rails: defaultRails,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *SimulatedGateway) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

func (g *SimulatedGateway) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

// selectRail picks a rail weighted by its traffic share
func (g *SimulatedGateway) selectRail() *Rail {
	totalWeight := 0.0
	for _, r := range g.rails {
		totalWeight += r.Weight
	}

	choice := g.float64() * totalWeight
	current := 0.0
	for _, r := range g.rails {
		current += r.Weight
		if current >= choice {
			return r
		}
	}
	return g.rails[0]
}

// Payout transfers amount to the provider and returns the rail reference.
func (g *SimulatedGateway) Payout(ctx context.Context, settlementID, providerID string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}

	rail := g.selectRail()
	logger := log.With().
		Str("rail_id", rail.ID).
		Str("settlement_id", settlementID).
		Str("provider_id", providerID).
		Str("amount", amount.StringFixed(2)).
		Logger()

	if g.latency {
		latency := g.intn(rail.MaxLatency-rail.MinLatency+1) + rail.MinLatency
		logger.Debug().Int("latency_ms", latency).Msg("simulated rail latency")
		select {
		case <-time.After(time.Duration(latency) * time.Millisecond):
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "payout cancelled")
		}
	}

	if g.float64() >= rail.SuccessRate*(1-g.failureRate) {
		logger.Warn().Float64("failure_rate", g.failureRate).Msg("payout rejected by rail")
		return "", errors.Errorf("payout rejected by %s", rail.Name)
	}

	ref := fmt.Sprintf("%s-%d", rail.ID, g.intn(1_000_000_000))
	logger.Info().Str("payout_ref", ref).Msg("payout sent")
	return ref, nil
}
