package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zytedata/zyte-api-go/internal/testutil"
	"github.com/zytedata/zyte-api-go/pkg/client"
	"github.com/zytedata/zyte-api-go/pkg/payment"
)

const testEthKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

// TestRedisStore exercises the Redis-backed payment requirement store.
func TestRedisStore(t *testing.T) {
	redisClient := setupRedis(t)
	store := payment.NewRedisStore(redisClient, time.Minute)
	ctx := context.Background()

	fp := payment.Fingerprint("integration-test")
	if _, err := store.Get(ctx, fp); err != payment.ErrStoreMiss {
		t.Fatalf("Get on empty store = %v, want ErrStoreMiss", err)
	}

	entry := &payment.Entry{
		Version: 1,
		Requirements: payment.Requirements{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "10000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		},
	}
	if err := store.Set(ctx, fp, entry); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, fp)
	if err != nil {
		t.Fatal(err)
	}
	if got.Requirements.MaxAmountRequired != "10000" {
		t.Errorf("got %+v", got.Requirements)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, fp); err != payment.ErrStoreMiss {
		t.Errorf("Get after Clear = %v, want ErrStoreMiss", err)
	}
}

// TestRedisStoreTTL verifies that entries expire on their own.
func TestRedisStoreTTL(t *testing.T) {
	redisClient := setupRedis(t)
	store := payment.NewRedisStore(redisClient, time.Second)
	ctx := context.Background()

	fp := payment.Fingerprint("ttl-test")
	entry := &payment.Entry{Version: 1, Requirements: payment.Requirements{MaxAmountRequired: "1"}}
	if err := store.Set(ctx, fp, entry); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, fp); err != nil {
		t.Fatal(err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := store.Get(ctx, fp); err != payment.ErrStoreMiss {
		t.Errorf("Get after TTL = %v, want ErrStoreMiss", err)
	}
}

// TestPaymentRequirementsSharedAcrossClients verifies that a Redis store
// lets a second client reuse the first client's challenge round-trip.
func TestPaymentRequirementsSharedAcrossClients(t *testing.T) {
	redisClient := setupRedis(t)
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.RequirePayment = true

	ctx := context.Background()
	query := map[string]any{"url": "https://a.example", "httpResponseBody": true}

	newClient := func() *client.Client {
		c, err := client.New(client.Config{
			EthKey:       testEthKey,
			APIURL:       mock.URL(),
			PaymentStore: payment.NewRedisStore(redisClient, time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	c1 := newClient()
	defer c1.Close()
	if _, err := c1.Get(ctx, query); err != nil {
		t.Fatal(err)
	}
	if mock.GetChallengeCount() != 1 {
		t.Fatalf("challenges = %d, want 1", mock.GetChallengeCount())
	}

	// A fresh client instance, same store: no new challenge needed.
	c2 := newClient()
	defer c2.Close()
	if _, err := c2.Get(ctx, query); err != nil {
		t.Fatal(err)
	}
	if mock.GetChallengeCount() != 1 {
		t.Errorf("challenges = %d, want still 1", mock.GetChallengeCount())
	}
	if c2.AggStats().N402Req() != 0 {
		t.Errorf("second client N402Req() = %d, want 0", c2.AggStats().N402Req())
	}
}

// TestFullFlowWithRetries runs a query mix end to end against the mock
// API, with a Redis-backed payment store in the loop.
func TestFullFlowWithRetries(t *testing.T) {
	redisClient := setupRedis(t)
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.RequirePayment = true

	c, err := client.New(client.Config{
		EthKey:       testEthKey,
		APIURL:       mock.URL(),
		NConn:        4,
		PaymentStore: payment.NewRedisStore(redisClient, time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	queries := []map[string]any{
		{"url": "https://a.example/1", "httpResponseBody": true},
		{"url": "https://a.example/2", "httpResponseBody": true},
		{"url": "https://e401.example", "httpResponseBody": true},
	}

	succeeded, failed := 0, 0
	for result := range c.Iter(context.Background(), queries) {
		if result.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	if succeeded != 2 || failed != 1 {
		t.Errorf("succeeded=%d failed=%d, want 2/1", succeeded, failed)
	}

	agg := c.AggStats()
	if agg.NSuccess() != 2 || agg.NFatalErrors() != 1 {
		t.Errorf("success=%d fatal=%d, want 2/1", agg.NSuccess(), agg.NFatalErrors())
	}
	// Two distinct domains, so two cost fingerprints and two challenges.
	if agg.N402Req() != 2 {
		t.Errorf("N402Req() = %d, want 2", agg.N402Req())
	}
}
