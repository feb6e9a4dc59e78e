package overpass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wegman-software/trailgraph/internal/config"
	"github.com/wegman-software/trailgraph/internal/geo"
)

var testBounds = geo.Bounds{MinLat: 51.4, MinLon: -0.2, MaxLat: 51.6, MaxLon: 0.0}

func testConfig(endpoints ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Endpoints = endpoints
	cfg.RetryBaseDelay = time.Millisecond
	cfg.QueryInterval = time.Microsecond
	cfg.QueryTimeout = 5 * time.Second
	return cfg
}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery(testBounds)

	for _, want := range []string{
		`way["highway"="bridleway"]`,
		`way["highway"="service"]["service"!="driveway"]`,
		`way["horse"="designated"]`,
		"out body",
		"[out:json]",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
	if !strings.Contains(q, "(51.4") {
		t.Errorf("query missing bounding box:\n%s", q)
	}
}

func TestFetchSucceedsAfterRetryableFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad form: %v", err)
		}
		if !strings.Contains(r.PostForm.Get("data"), "bridleway") {
			t.Error("query not passed as form data")
		}

		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"elements": []}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	dest := filepath.Join(t.TempDir(), "raw.json")

	n, err := c.Fetch(context.Background(), testBounds, dest)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if n == 0 {
		t.Error("expected bytes written")
	}
	if data, err := os.ReadFile(dest); err != nil || string(data) != `{"elements": []}` {
		t.Errorf("raw file not persisted: %v %q", err, data)
	}
}

func TestFatalStatusSkipsToNextMirror(t *testing.T) {
	var badCalls, goodCalls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badCalls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodCalls.Add(1)
		w.Write([]byte(`{"elements": []}`))
	}))
	defer good.Close()

	c := NewClient(testConfig(bad.URL, good.URL))
	dest := filepath.Join(t.TempDir(), "raw.json")

	if _, err := c.Fetch(context.Background(), testBounds, dest); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	// 4xx is fatal for the endpoint: exactly one attempt, no retries.
	if badCalls.Load() != 1 {
		t.Errorf("expected 1 call to fatal endpoint, got %d", badCalls.Load())
	}
	if goodCalls.Load() != 1 {
		t.Errorf("expected 1 call to good endpoint, got %d", goodCalls.Load())
	}
}

func TestAllEndpointsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, srv.URL)
	cfg.MaxRetries = 1
	c := NewClient(cfg)

	if _, err := c.Fetch(context.Background(), testBounds, filepath.Join(t.TempDir(), "raw.json")); err == nil {
		t.Error("expected failure when all mirrors are exhausted")
	}
}

func TestBackoffDelaysIncreaseMonotonically(t *testing.T) {
	c := NewClient(testConfig("http://example.invalid"))
	c.baseDelay = 2 * time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := c.backoffDelay(attempt)
		if d <= prev {
			t.Errorf("attempt %d: delay %s not greater than previous %s", attempt, d, prev)
		}
		prev = d
	}
	if c.backoffDelay(1) != 2*time.Second || c.backoffDelay(2) != 4*time.Second || c.backoffDelay(3) != 8*time.Second {
		t.Errorf("unexpected backoff schedule: %s %s %s",
			c.backoffDelay(1), c.backoffDelay(2), c.backoffDelay(3))
	}
}

func TestRetryableClassification(t *testing.T) {
	if !isRetryable(&statusError{code: 503}) {
		t.Error("5xx must be retryable")
	}
	if !isRetryable(&statusError{code: 429}) {
		t.Error("429 must be retryable")
	}
	if isRetryable(&statusError{code: 404}) {
		t.Error("404 must be fatal")
	}
	if isRetryable(&statusError{code: 400}) {
		t.Error("400 must be fatal")
	}
}

func TestFetchCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryBaseDelay = time.Minute // cancellation must win over backoff
	c := NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, testBounds, filepath.Join(t.TempDir(), "raw.json"))
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected cancellation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not observe cancellation")
	}
}
