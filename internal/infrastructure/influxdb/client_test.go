package influxdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/config"
	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/influxdb"
)

// testConfig matches the local dev instance from docker-compose.yml.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "sparkhist-dev-token",
		Org:           "sparkhist",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the dev InfluxDB, skipping the test when
// none is running. These are integration tests; everything that needs
// a live server goes through here.
func connectOrSkip(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Skipf("InfluxDB not available, skipping: %v", err)
	}
	return client
}

// collectErr registers a race-safe error callback and returns a getter.
func collectErr(client *influxdb.Client) func() error {
	var mu sync.Mutex
	var writeErr error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		return writeErr
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() with mirror disabled error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := influxdb.Connect(cfg); err == nil {
		t.Fatal("Connect() to an unreachable server should fail")
	}
}

func TestConnect_BatchSettingDefaults(t *testing.T) {
	// Zero and negative settings fall back to the built-in defaults
	// rather than being passed to the client as-is.
	for _, val := range []int{0, -5} {
		cfg := testConfig()
		cfg.BatchSize = val
		cfg.FlushInterval = val

		client := connectOrSkip(t, cfg)
		if !client.IsConnected() {
			t.Errorf("IsConnected() = false with batch settings %d", val)
		}
		client.Close()
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with a cancelled context should fail")
	}
}

func TestWriteMetricValue(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	defer client.Close()

	lastErr := collectErr(client)

	client.WriteMetricValue("press7", "temperature", 42.0, time.Now())
	client.Flush()

	// Error callbacks arrive asynchronously.
	time.Sleep(100 * time.Millisecond)

	if err := lastErr(); err != nil {
		t.Errorf("mirror write error = %v", err)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	client.WriteMetricValue("press7", "temperature", 1.0, time.Now())

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Flush after Close is a no-op, not a panic.
	client.Flush()
}
