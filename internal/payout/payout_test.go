package payout

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayoutSucceeds(t *testing.T) {
	g := NewSimulatedGateway(WithSeed(1))

	ref, err := g.Payout(context.Background(), "STL_1", "PRV_1", decimal.NewFromInt(90))
	require.NoError(t, err)

	railIDs := []string{"ACH-", "RTP-", "WIRE-"}
	matched := false
	for _, prefix := range railIDs {
		if strings.HasPrefix(ref, prefix) {
			matched = true
		}
	}
	assert.True(t, matched, "unexpected reference %q", ref)
}

func TestPayoutRejectsNonPositiveAmounts(t *testing.T) {
	g := NewSimulatedGateway()

	_, err := g.Payout(context.Background(), "STL_1", "PRV_1", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = g.Payout(context.Background(), "STL_1", "PRV_1", decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPayoutAlwaysFailsAtFullFailureRate(t *testing.T) {
	g := NewSimulatedGateway(WithFailureRate(1), WithSeed(7))

	for i := 0; i < 20; i++ {
		_, err := g.Payout(context.Background(), "STL_1", "PRV_1", decimal.NewFromInt(10))
		assert.Error(t, err)
	}
}

func TestPayoutHonoursCancellation(t *testing.T) {
	g := NewSimulatedGateway(WithLatency(), WithSeed(3))
	g.rails = []*Rail{{ID: "SLOW", Name: "Slow", MinLatency: 5000, MaxLatency: 5000, SuccessRate: 1, Weight: 1}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Payout(ctx, "STL_1", "PRV_1", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSelectRailFollowsWeights(t *testing.T) {
	g := NewSimulatedGateway(WithSeed(42))
	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		counts[g.selectRail().ID]++
	}
	assert.Greater(t, counts["ACH"], counts["RTP"])
	assert.Greater(t, counts["RTP"], counts["WIRE"])
}
