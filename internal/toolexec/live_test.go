package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"conductor/internal/cache"
	"conductor/internal/events"
	"conductor/internal/protocol"
)

func newLiveExecutor(t *testing.T, log *events.Log) *Executor {
	t.Helper()
	store, err := cache.NewFileStore(filepath.Join(t.TempDir(), "cache"), 16)
	if err != nil {
		t.Fatal(err)
	}
	return New(store, DefaultRegistry(), Options{
		ArtifactRoot: filepath.Join(t.TempDir(), "artifacts"),
		TestMode:     false,
		Credentials:  fakeCreds{},
		Events:       log,
	})
}

func shortRetryDelay(t *testing.T) {
	t.Helper()
	old := retryDelay
	retryDelay = 5 * time.Millisecond
	t.Cleanup(func() { retryDelay = old })
}

func eventNames(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var ev struct {
			Name string `json:"event_name"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatal(err)
		}
		names = append(names, ev.Name)
	}
	return names
}

func TestLiveCall_RetriesOnceOn5xx(t *testing.T) {
	shortRetryDelay(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream flake", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `<html><head><title>recovered</title></head><body></body></html>`)
	}))
	defer srv.Close()

	e := newLiveExecutor(t, nil)
	res, err := e.Execute(context.Background(), Request{
		Tenant: "acme",
		RunID:  "run-live",
		Tool: protocol.ToolRequest{
			Capability: CapWebFetch,
			InputSpec:  map[string]interface{}{"url": srv.URL},
		},
	})
	if err != nil {
		t.Fatalf("single 5xx must be absorbed by the retry: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("server saw %d calls, want initial attempt plus exactly one retry", n)
	}
	if res.Outputs["title"] != "recovered" {
		t.Errorf("outputs = %v", res.Outputs)
	}
}

func TestLiveCall_NoSecondRetry(t *testing.T) {
	shortRetryDelay(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newLiveExecutor(t, nil)
	_, err := e.Execute(context.Background(), Request{
		Tenant: "acme",
		RunID:  "run-live",
		Tool: protocol.ToolRequest{
			Capability: CapWebFetch,
			InputSpec:  map[string]interface{}{"url": srv.URL},
		},
	})
	if err == nil {
		t.Fatal("persistent 5xx must fail the request")
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("server saw %d calls, want exactly 2", n)
	}
}

func TestLiveCall_RetryHonorsCancellation(t *testing.T) {
	old := retryDelay
	retryDelay = time.Second
	t.Cleanup(func() { retryDelay = old })

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := liveCall(ctx, srv.Client(), "GET", srv.URL, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context deadline", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("retry wait ignored cancellation (took %v)", elapsed)
	}
	if n := atomic.LoadInt32(&calls); n > 1 {
		t.Errorf("server saw %d calls, retry must not run after cancellation", n)
	}
}

func TestCrawlSite_DegradesToSinglePage(t *testing.T) {
	shortRetryDelay(t)

	// The start page fails both its attempts; the fallback fetch succeeds.
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			http.Error(w, "crawler blocked", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `<html><head><title>homepage</title></head><body></body></html>`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := events.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	e := newLiveExecutor(t, log)
	res, err := e.Execute(context.Background(), Request{
		Tenant: "acme",
		RunID:  "run-crawl",
		Tool: protocol.ToolRequest{
			Capability: CapCrawlSite,
			InputSpec:  map[string]interface{}{"url": srv.URL, "max_pages": 3.0},
		},
	})
	if err != nil {
		t.Fatalf("degraded crawl must not fail the request: %v", err)
	}

	if res.Outputs["fallback"] != true {
		t.Errorf("outputs = %v", res.Outputs)
	}
	if reason, _ := res.Outputs["fallback_reason"].(string); reason == "" {
		t.Error("fallback_reason missing")
	}
	if len(res.Artifacts) != 1 {
		t.Errorf("fallback should produce the single fetched page, got %v", res.Artifacts)
	}
	if res.Outputs["title"] != "homepage" {
		t.Errorf("fallback page outputs = %v", res.Outputs)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server saw %d calls, want start attempt + one retry + fallback fetch", n)
	}

	var sawFallback bool
	for _, name := range eventNames(t, path) {
		if name == events.ToolFallback {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("tool_fallback event not emitted")
	}
}
