package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/resilience"
)

type packagingUpstream struct {
	hits      atomic.Int64
	failFirst atomic.Int64
	failing   atomic.Bool
	server    *httptest.Server
}

func newPackagingUpstream(t *testing.T) *packagingUpstream {
	t.Helper()
	up := &packagingUpstream{}
	up.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit := up.hits.Add(1)
		if up.failing.Load() || hit <= up.failFirst.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/packages" && r.URL.Query().Get("query") == "amoxicillin":
			fmt.Fprint(w, `{"packages":[
				{"packageId":"34009-3000-0014","packSize":30,"isActive":true,"dosageForm":"tablet","brandName":"Amoxil","packageDescription":"box of 30 tablets"},
				{"packageId":"3400930000021","packSize":"60","isActive":false,"dosageForm":"tablet","brandName":"Amoxil","packageDescription":"box of 60 tablets"}
			]}`)
		case r.URL.Path == "/packages" && r.URL.Query().Get("query") == "nothing here":
			fmt.Fprint(w, `{"packages":[]}`)
		case r.URL.Path == "/packages/3400930000014":
			fmt.Fprint(w, `{"packageId":"3400930000014","packSize":30,"isActive":true,"dosageForm":"tablet","brandName":"Amoxil","packageDescription":"box of 30 tablets"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"unknown package"}`)
		}
	}))
	t.Cleanup(up.server.Close)
	return up
}

func newTestPackaging(up *packagingUpstream, cfg ClientConfig) *Packaging {
	cfg.BaseURL = up.server.URL
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 2 * time.Millisecond
	}
	return NewPackaging(cfg, up.server.Client())
}

func TestPackagingSearchDecodesRecords(t *testing.T) {
	up := newPackagingUpstream(t)
	client := newTestPackaging(up, ClientConfig{})

	records, stale, err := client.SearchPackages(context.Background(), "Amoxicillin")
	if err != nil {
		t.Fatalf("SearchPackages failed: %v", err)
	}
	if stale {
		t.Error("Expected a fresh answer")
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.PackageID != "3400930000014" {
		t.Errorf("Expected normalized package id, got %q", first.PackageID)
	}
	if !first.PackSize.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected pack size 30, got %s", first.PackSize)
	}
	if !first.IsActive {
		t.Error("Expected first record active")
	}

	// Pack sizes arrive as numbers or strings; both must decode.
	if !records[1].PackSize.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected pack size 60, got %s", records[1].PackSize)
	}
	if records[1].IsActive {
		t.Error("Expected second record inactive")
	}
}

func TestPackagingSearchCachesEmptyAnswer(t *testing.T) {
	up := newPackagingUpstream(t)
	client := newTestPackaging(up, ClientConfig{})

	for i := 0; i < 2; i++ {
		records, _, err := client.SearchPackages(context.Background(), "nothing here")
		if err != nil {
			t.Fatalf("search %d failed: %v", i+1, err)
		}
		if len(records) != 0 {
			t.Fatalf("Expected no records, got %d", len(records))
		}
	}

	if got := up.hits.Load(); got != 1 {
		t.Errorf("Expected the empty answer to be cached after 1 hit, got %d", got)
	}
}

func TestPackagingPackageByID(t *testing.T) {
	up := newPackagingUpstream(t)
	client := newTestPackaging(up, ClientConfig{})

	record, stale, err := client.PackageByID(context.Background(), "34009-3000-0014", false)
	if err != nil {
		t.Fatalf("PackageByID failed: %v", err)
	}
	if stale {
		t.Error("Expected a fresh answer")
	}
	if record == nil {
		t.Fatal("Expected a record")
	}
	if record.PackageID != "3400930000014" {
		t.Errorf("Expected normalized id, got %q", record.PackageID)
	}
	if !record.PackSize.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected pack size 30, got %s", record.PackSize)
	}
}

func TestPackagingPackageByIDNotFound(t *testing.T) {
	up := newPackagingUpstream(t)
	client := newTestPackaging(up, ClientConfig{})

	for i := 0; i < 2; i++ {
		record, _, err := client.PackageByID(context.Background(), "9999999999999", false)
		if err != nil {
			t.Fatalf("lookup %d failed: %v", i+1, err)
		}
		if record != nil {
			t.Fatalf("Expected nil record for unknown id, got %+v", record)
		}
	}

	if got := up.hits.Load(); got != 1 {
		t.Errorf("Expected the not-found answer to be cached after 1 hit, got %d", got)
	}
}

func TestPackagingAllowStaleServesFromCacheUpFront(t *testing.T) {
	up := newPackagingUpstream(t)
	client := newTestPackaging(up, ClientConfig{FreshTTL: 10 * time.Millisecond})

	if _, _, err := client.PackageByID(context.Background(), "3400930000014", false); err != nil {
		t.Fatalf("warm-up lookup failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	record, stale, err := client.PackageByID(context.Background(), "3400930000014", true)
	if err != nil {
		t.Fatalf("allow-stale lookup failed: %v", err)
	}
	if !stale {
		t.Error("Expected the answer to be flagged stale")
	}
	if record == nil || record.PackageID != "3400930000014" {
		t.Fatalf("Expected the cached record, got %+v", record)
	}
	if got := up.hits.Load(); got != 1 {
		t.Errorf("Expected the allow-stale lookup to skip the network, got %d hits", got)
	}
}

func TestPackagingRetriesTransientFailures(t *testing.T) {
	up := newPackagingUpstream(t)
	up.failFirst.Store(2)
	client := newTestPackaging(up, ClientConfig{})

	record, _, err := client.PackageByID(context.Background(), "3400930000014", false)
	if err != nil {
		t.Fatalf("Expected retries to recover, got %v", err)
	}
	if record == nil {
		t.Fatal("Expected a record after retrying")
	}
	if got := up.hits.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestPackagingServesStaleWhenUpstreamDown(t *testing.T) {
	up := newPackagingUpstream(t)
	client := newTestPackaging(up, ClientConfig{FreshTTL: 10 * time.Millisecond})

	if _, _, err := client.SearchPackages(context.Background(), "amoxicillin"); err != nil {
		t.Fatalf("warm-up search failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	up.failing.Store(true)

	records, stale, err := client.SearchPackages(context.Background(), "amoxicillin")
	if err != nil {
		t.Fatalf("Expected stale fallback, got error: %v", err)
	}
	if !stale {
		t.Error("Expected the answer to be flagged stale")
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 stale records, got %d", len(records))
	}
}

func TestPackagingBreakerOpensAfterRepeatedFailures(t *testing.T) {
	up := newPackagingUpstream(t)
	up.failing.Store(true)
	client := newTestPackaging(up, ClientConfig{})

	// Distinct ids so every call misses the cache and reaches the breaker.
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("111111111%d", i)
		if _, _, err := client.PackageByID(context.Background(), id, false); err == nil {
			t.Fatalf("call %d should have failed", i+1)
		}
	}

	if client.BreakerState() != resilience.BreakerOpen {
		t.Fatalf("Expected the breaker to be open, got %s", client.BreakerState())
	}

	hitsBefore := up.hits.Load()
	_, _, err := client.PackageByID(context.Background(), "2222222222", false)
	if !apperrors.IsKind(err, apperrors.KindDependency) {
		t.Errorf("Expected dependency_failure from the open circuit, got %v", err)
	}
	if got := up.hits.Load(); got != hitsBefore {
		t.Errorf("Expected the open circuit to skip the network, hits went %d -> %d", hitsBefore, got)
	}
}
