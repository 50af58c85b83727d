package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/booking-api/internal/app"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/catalog"
	"github.com/ksred/booking-api/internal/config"
	"github.com/ksred/booking-api/internal/database"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/internal/payment"
	"github.com/ksred/booking-api/internal/settlement"
	"github.com/ksred/booking-api/internal/timeslot"
	"github.com/ksred/booking-api/internal/types"
)

const (
	minOrders     = 15
	maxOrders     = 60
	numWorkers    = 5
	listenAddress = "localhost:8080"
	serverAddress = "http://" + listenAddress
)

// outcome is what the simulation does with an order once it is paid.
type outcome string

const (
	outcomeComplete outcome = "COMPLETED"
	outcomeCancel   outcome = "CANCELLED"
	outcomeReject   outcome = "REJECTED"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient drives the booking API over HTTP as a customer, the demo
// provider and an admin
type simulationClient struct {
	baseURL string
	client  *http.Client

	customer auth.TokenResponse
	provider auth.TokenResponse
	admin    auth.TokenResponse

	mu    sync.Mutex
	stats map[string]*routeStats
}

// newSimulationClient authenticates all three demo principals
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"services": {name: "List Services"},
			"slots":    {name: "List Slots"},
			"create":   {name: "Create Order"},
			"pay":      {name: "Pay Order"},
			"accept":   {name: "Accept Order"},
			"start":    {name: "Start Order"},
			"complete": {name: "Complete Order"},
			"reject":   {name: "Reject Order"},
			"cancel":   {name: "Cancel Order"},
			"batch":    {name: "Settlement Batch"},
			"summary":  {name: "Settlement Summary"},
		},
	}

	logins := []struct {
		key, secret string
		into        *auth.TokenResponse
	}{
		{database.DemoCustomerAPIKey, database.DemoCustomerAPISecret, &sc.customer},
		{database.DemoProviderAPIKey, database.DemoProviderAPISecret, &sc.provider},
		{database.DemoAdminAPIKey, database.DemoAdminAPISecret, &sc.admin},
	}
	for _, l := range logins {
		token, err := sc.authenticate(l.key, l.secret)
		if err != nil {
			return nil, errors.Wrapf(err, "authenticate %s", l.key)
		}
		*l.into = *token
	}
	return sc, nil
}

func (sc *simulationClient) record(route string, d time.Duration, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(d)
	if failed {
		rs.failures++
	}
}

// call sends a JSON request and decodes the data member of the response
// envelope into out
func (sc *simulationClient) call(route, method, path, token string, body any, headers map[string]string, out any) (status int, err error) {
	start := time.Now()
	defer func() {
		sc.record(route, time.Since(start), err != nil)
	}()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errors.Wrap(err, "read response body")
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	var env types.Envelope[json.RawMessage]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return resp.StatusCode, errors.Wrapf(err, "decode response: %s", string(respBody))
	}
	if !env.Success {
		if env.Error != nil {
			return resp.StatusCode, errors.Wrapf(env.Error, "%s %s failed with status %d", method, path, resp.StatusCode)
		}
		return resp.StatusCode, errors.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "decode data")
		}
	}
	return resp.StatusCode, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (*auth.TokenResponse, error) {
	var token auth.TokenResponse
	_, err := sc.call("auth", http.MethodPost, "/api/v1/auth/token", "",
		auth.Credentials{APIKey: apiKey, APISecret: apiSecret}, nil, &token)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (sc *simulationClient) listServices() ([]catalog.Offering, error) {
	var services []catalog.Offering
	_, err := sc.call("services", http.MethodGet, "/api/v1/services", "", nil, nil, &services)
	return services, err
}

func (sc *simulationClient) listSlots(providerID string) ([]timeslot.TimeSlot, error) {
	var slots []timeslot.TimeSlot
	_, err := sc.call("slots", http.MethodGet, "/api/v1/providers/"+providerID+"/slots", sc.customer.Token, nil, nil, &slots)
	return slots, err
}

// createOrder books serviceID, optionally on slotID, under a fresh
// idempotency key and replays the request once to check it resolves to the
// same order
func (sc *simulationClient) createOrder(serviceID, slotID string) (*order.Order, error) {
	body := map[string]any{"service_id": serviceID}
	if slotID != "" {
		body["time_slot_id"] = slotID
	}
	headers := map[string]string{"Idempotency-Key": uuid.New().String()}

	var created order.CreateResult
	if _, err := sc.call("create", http.MethodPost, "/api/v1/orders", sc.customer.Token, body, headers, &created); err != nil {
		return nil, err
	}

	var replayed order.CreateResult
	if _, err := sc.call("create", http.MethodPost, "/api/v1/orders", sc.customer.Token, body, headers, &replayed); err != nil {
		return nil, errors.Wrap(err, "replay create")
	}
	if !replayed.IdempotentHit || replayed.Order.OrderID != created.Order.OrderID {
		return nil, errors.Errorf("replay returned order %s, want %s", replayed.Order.OrderID, created.Order.OrderID)
	}
	return created.Order, nil
}

func (sc *simulationClient) payOrder(orderID string) (*payment.PayResult, error) {
	var result payment.PayResult
	_, err := sc.call("pay", http.MethodPost, "/api/v1/orders/"+orderID+"/pay", sc.customer.Token,
		types.PayRequest{RequestID: uuid.New().String()}, nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (sc *simulationClient) providerAction(action, orderID string, body any) (*order.Order, error) {
	var o order.Order
	path := fmt.Sprintf("/api/v1/providers/%s/orders/%s/%s", sc.provider.ProviderID, orderID, action)
	if _, err := sc.call(action, http.MethodPost, path, sc.provider.Token, body, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (sc *simulationClient) cancelOrder(orderID, reason string) (*order.Order, error) {
	var o order.Order
	_, err := sc.call("cancel", http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", sc.customer.Token,
		types.ReasonRequest{Reason: reason}, nil, &o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (sc *simulationClient) runBatch() (*settlement.BatchSummary, error) {
	var summary settlement.BatchSummary
	if _, err := sc.call("batch", http.MethodPost, "/api/v1/admin/settlements/batch", sc.admin.Token, nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (sc *simulationClient) providerSummary() (*settlement.Summary, error) {
	var summary settlement.Summary
	if _, err := sc.call("summary", http.MethodGet, "/api/v1/settlements/summary", sc.provider.Token, nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	names := make([]string, 0, len(sc.stats))
	for route := range sc.stats {
		names = append(names, route)
	}
	sort.Strings(names)

	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, route := range names {
		stats := sc.stats[route]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// simStats aggregates what the workers did
type simStats struct {
	mu        sync.Mutex
	created   int
	paid      int
	failed    int
	outcomes  map[outcome]int
	bookedGMV decimal.Decimal
}

func (s *simStats) add(fn func(*simStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func pickOutcome() outcome {
	switch n := rand.Intn(10); {
	case n < 7:
		return outcomeComplete
	case n < 9:
		return outcomeCancel
	default:
		return outcomeReject
	}
}

// runOrder takes one order through creation, payment and a random outcome
func runOrder(workerID int, sc *simulationClient, service catalog.Offering, slotID string, stats *simStats) {
	logger := log.With().Int("worker_id", workerID).Str("service_id", service.ServiceID).Logger()

	o, err := sc.createOrder(service.ServiceID, slotID)
	if err != nil {
		logger.Error().Err(err).Str("slot_id", slotID).Msg("Failed to create order")
		stats.add(func(s *simStats) { s.failed++ })
		return
	}
	stats.add(func(s *simStats) { s.created++ })
	logger = logger.With().Str("order_id", o.OrderID).Logger()

	paid, err := sc.payOrder(o.OrderID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to pay order")
		stats.add(func(s *simStats) { s.failed++ })
		return
	}
	stats.add(func(s *simStats) {
		s.paid++
		s.bookedGMV = s.bookedGMV.Add(paid.Payment.Amount)
	})

	want := pickOutcome()
	switch want {
	case outcomeCancel:
		_, err = sc.cancelOrder(o.OrderID, "simulated change of plans")
	case outcomeReject:
		_, err = sc.providerAction("reject", o.OrderID, types.ReasonRequest{Reason: "simulated double booking"})
	default:
		for _, action := range []string{"accept", "start", "complete"} {
			if _, err = sc.providerAction(action, o.OrderID, nil); err != nil {
				break
			}
		}
	}
	if err != nil {
		logger.Error().Err(err).Str("outcome", string(want)).Msg("Failed to finish order")
		stats.add(func(s *simStats) { s.failed++ })
		return
	}

	stats.add(func(s *simStats) { s.outcomes[want]++ })
	logger.Info().
		Str("outcome", string(want)).
		Str("amount", paid.Payment.Amount.StringFixed(2)).
		Msg("Order finished")
}

// startServer runs the booking API in-process on a throwaway SQLite file
func startServer(ctx context.Context, dir string) (*app.App, error) {
	cfg := &config.Config{
		Addr: listenAddress,
		Env:  "development",
		Seed: true,
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dir, "simulation.db"),
		},
		JWT: config.JWTConfig{
			Secret: "simulation-secret",
			TTL:    time.Hour,
		},
		Settlement: config.SettlementConfig{
			Schedule:    "0 2 * * *",
			TimeZone:    "UTC",
			FailureRate: 0.05,
			Disabled:    true,
		},
		Events:   config.EventsConfig{Workers: 4, QueueSize: 256},
		Graceful: config.GracefulConfig{ShutdownTimeout: 5 * time.Second},
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := a.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to run server")
		}
	}()
	return a, nil
}

// main runs the booking simulation
// It starts a local API server and drives concurrent customers through the
// order lifecycle, then runs the settlement batch
func main() {
	dir, err := os.MkdirTemp("", "booking-sim")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create work dir")
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithCancel(context.Background())
	a, err := startServer(ctx, dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
	defer func() {
		cancel()
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := a.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop server")
		}
	}()

	// Wait for server to start
	time.Sleep(500 * time.Millisecond)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	services, err := simClient.listServices()
	if err != nil || len(services) == 0 {
		log.Fatal().Err(err).Msg("No bookable services")
	}
	service := services[0]

	slots, err := simClient.listSlots(service.ProviderID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list slots")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().
		Int("target_orders", targetOrders).
		Int("slots", len(slots)).
		Msg("Starting simulation")

	// Orders past the last free slot are booked without one.
	slotIDs := make(chan string, len(slots))
	for _, slot := range slots {
		slotIDs <- slot.SlotID
	}
	close(slotIDs)

	jobs := make(chan int, targetOrders)
	for i := 0; i < targetOrders; i++ {
		jobs <- i
	}
	close(jobs)

	stats := &simStats{outcomes: make(map[outcome]int), bookedGMV: decimal.Zero}
	startTime := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for range jobs {
				slotID := <-slotIDs
				runOrder(workerID, simClient, service, slotID, stats)
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	batch, err := simClient.runBatch()
	if err != nil {
		log.Fatal().Err(err).Msg("Settlement batch failed")
	}
	summary, err := simClient.providerSummary()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read settlement summary")
	}

	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BOOKING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Target Orders:     %d
Created:           %d
Paid:              %d
Failed Steps:      %d
Booked Value:      $%s
Duration:          %v

Settlement Batch %s
-------------------------------
Status:            %s
Settlements:       %d
Paid Out:          %d
Failed:            %d
Payout Total:      $%s
Provider Pending:  $%s

Outcome Distribution
--------------------
`, targetOrders, stats.created, stats.paid, stats.failed, stats.bookedGMV.StringFixed(2),
		duration.Round(time.Millisecond),
		batch.BatchID, batch.Status, batch.TotalCount, batch.SuccessCount, batch.FailedCount,
		batch.TotalAmount.StringFixed(2), summary.PendingAmount.StringFixed(2))

	for _, o := range []outcome{outcomeComplete, outcomeCancel, outcomeReject} {
		count := stats.outcomes[o]
		barLength := 0
		if stats.paid > 0 {
			barLength = int(float64(count) / float64(stats.paid) * 20)
		}
		fmt.Printf("%-10s: %s (%d)\n", o, strings.Repeat("#", barLength), count)
	}
	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("orders_created", stats.created).
		Int("settled", batch.SuccessCount).
		Str("payout_total", batch.TotalAmount.StringFixed(2)).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}
