package registry

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/logging"
	"github.com/seligo/rxquant-api/metrics"
	"github.com/seligo/rxquant-api/resilience"
)

// DefaultPackagingTTL is how long packaging answers stay fresh. Package
// records change on the registry's daily publication cycle.
const DefaultPackagingTTL = 24 * time.Hour

// PackageRecord is a packaging-registry entry for one marketed package.
type PackageRecord struct {
	PackageID          string          `json:"packageId"`
	PackSize           decimal.Decimal `json:"packSize"`
	IsActive           bool            `json:"isActive"`
	DosageForm         string          `json:"dosageForm"`
	BrandName          string          `json:"brandName"`
	PackageDescription string          `json:"packageDescription"`
}

func (r *PackageRecord) normalize() {
	r.PackageID = NormalizePackageID(r.PackageID)
	r.DosageForm = strings.TrimSpace(r.DosageForm)
	r.BrandName = strings.TrimSpace(r.BrandName)
	r.PackageDescription = strings.TrimSpace(r.PackageDescription)
}

// packagingEntry is one cache slot. An empty Records slice is a cached
// negative answer.
type packagingEntry struct {
	Records []PackageRecord
}

// Packaging searches package records and resolves them by identifier.
type Packaging struct {
	core  *core
	cache *resilience.Cache[packagingEntry]
}

// NewPackaging creates a packaging registry client. A nil doer falls
// back to a default HTTP client.
func NewPackaging(cfg ClientConfig, doer Doer) *Packaging {
	cfg = cfg.withDefaults(DefaultPackagingTTL)
	return &Packaging{
		core:  newCore("packaging", cfg, doer),
		cache: resilience.NewCache[packagingEntry](cfg.CacheCapacity, cfg.FreshTTL, cfg.StaleTTL),
	}
}

// SearchPackages returns the package records matching a free-text query.
// An empty slice with a nil error is a definitive no-match answer. The
// second return reports whether stale cache served the answer.
func (p *Packaging) SearchPackages(ctx context.Context, query string) ([]PackageRecord, bool, error) {
	folded := FoldName(query)
	if folded == "" {
		return nil, false, apperrors.Validation("package search query is required")
	}
	key := "search:" + folded

	if entry, _, ok := p.cache.GetWithStale(key, false); ok {
		metrics.RegistryCacheEvents.WithLabelValues("packaging", "hit").Inc()
		return entry.Records, false, nil
	}
	metrics.RegistryCacheEvents.WithLabelValues("packaging", "miss").Inc()

	var wire struct {
		Packages []PackageRecord `json:"packages"`
	}
	endpoint := p.core.baseURL + "/packages?query=" + url.QueryEscape(folded)
	err := p.core.fetch(ctx, endpoint, &wire)
	switch {
	case err == nil:
		for i := range wire.Packages {
			wire.Packages[i].normalize()
		}
		p.cache.Set(key, packagingEntry{Records: wire.Packages})
		return wire.Packages, false, nil

	case errors.Is(err, errNoResult):
		p.cache.Set(key, packagingEntry{Records: []PackageRecord{}})
		return []PackageRecord{}, false, nil

	case apperrors.IsKind(err, apperrors.KindRateLimit):
		return nil, false, err

	default:
		if entry, stale, ok := p.cache.GetWithStale(key, true); ok {
			metrics.RegistryCacheEvents.WithLabelValues("packaging", cacheEventFor(stale)).Inc()
			if stale {
				logging.Warn("Serving stale packaging registry data", "key", key, "error", err)
			}
			return entry.Records, stale, nil
		}
		return nil, false, err
	}
}

// PackageByID resolves one package record by identifier. allowStale lets
// the caller accept a stale cached record up front instead of only after
// a failed remote call; bulk crosswalk resolution uses that to avoid
// hammering the upstream. A nil record with a nil error is a definitive
// not-found answer.
func (p *Packaging) PackageByID(ctx context.Context, id string, allowStale bool) (*PackageRecord, bool, error) {
	normalized := NormalizePackageID(id)
	if normalized == "" {
		return nil, false, apperrors.Validation("package identifier is required")
	}
	key := "pkg:" + normalized

	if entry, stale, ok := p.cache.GetWithStale(key, allowStale); ok {
		metrics.RegistryCacheEvents.WithLabelValues("packaging", cacheEventFor(stale)).Inc()
		return entry.record(), stale, nil
	}
	metrics.RegistryCacheEvents.WithLabelValues("packaging", "miss").Inc()

	var wire PackageRecord
	err := p.core.fetch(ctx, p.core.baseURL+"/packages/"+url.PathEscape(normalized), &wire)
	switch {
	case err == nil:
		wire.normalize()
		p.cache.Set(key, packagingEntry{Records: []PackageRecord{wire}})
		return &wire, false, nil

	case errors.Is(err, errNoResult):
		p.cache.Set(key, packagingEntry{Records: []PackageRecord{}})
		return nil, false, nil

	case apperrors.IsKind(err, apperrors.KindRateLimit):
		return nil, false, err

	default:
		if entry, stale, ok := p.cache.GetWithStale(key, true); ok {
			metrics.RegistryCacheEvents.WithLabelValues("packaging", cacheEventFor(stale)).Inc()
			if stale {
				logging.Warn("Serving stale packaging registry data", "key", key, "error", err)
			}
			return entry.record(), stale, nil
		}
		return nil, false, err
	}
}

// record returns the single cached record, or nil for negative entries.
func (e packagingEntry) record() *PackageRecord {
	if len(e.Records) == 0 {
		return nil
	}
	rec := e.Records[0]
	return &rec
}

func cacheEventFor(stale bool) string {
	if stale {
		return "stale_hit"
	}
	return "hit"
}

// CacheStats exposes cache counters for health and metrics.
func (p *Packaging) CacheStats() resilience.CacheStats {
	return p.cache.Stats()
}

// PurgeExpired sweeps entries past their stale TTL and returns how many
// were removed.
func (p *Packaging) PurgeExpired() int {
	return p.cache.PurgeExpired()
}

// LastSuccess returns when the packaging registry last answered.
func (p *Packaging) LastSuccess() time.Time {
	return p.core.LastSuccess()
}

// BreakerState exposes the circuit state for health reporting.
func (p *Packaging) BreakerState() resilience.BreakerState {
	return p.core.BreakerState()
}
