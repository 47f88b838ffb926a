package registry

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/logging"
	"github.com/seligo/rxquant-api/metrics"
	"github.com/seligo/rxquant-api/resilience"
)

// DefaultNamingTTL is how long naming answers stay fresh. Concept data
// changes rarely but crosswalks do get corrected, so it is shorter than
// the packaging TTL.
const DefaultNamingTTL = time.Hour

// Concept is a naming-registry entry: a drug concept with its crosswalked
// package identifiers.
type Concept struct {
	ConceptID   string   `json:"conceptId"`
	DisplayName string   `json:"displayName"`
	PackageIDs  []string `json:"packageIds"`
}

// normalize brings the concept's package identifiers into canonical
// hyphen-free form.
func (c *Concept) normalize() {
	c.ConceptID = strings.TrimSpace(c.ConceptID)
	c.DisplayName = strings.TrimSpace(c.DisplayName)
	for i, id := range c.PackageIDs {
		c.PackageIDs[i] = NormalizePackageID(id)
	}
}

// namingEntry is one cache slot. A nil Concept is a cached negative: the
// upstream definitively answered not-found.
type namingEntry struct {
	Concept *Concept
}

// Naming looks up drug concepts by identifier, exact name, or
// approximate match.
type Naming struct {
	core  *core
	cache *resilience.Cache[namingEntry]
}

// NewNaming creates a naming registry client. A nil doer falls back to a
// default HTTP client.
func NewNaming(cfg ClientConfig, doer Doer) *Naming {
	cfg = cfg.withDefaults(DefaultNamingTTL)
	return &Naming{
		core:  newCore("naming", cfg, doer),
		cache: resilience.NewCache[namingEntry](cfg.CacheCapacity, cfg.FreshTTL, cfg.StaleTTL),
	}
}

// LookupByIdentifier resolves a concept by its registry identifier. A nil
// concept with a nil error means the registry definitively knows no such
// concept. The second return reports whether stale cache served the
// answer.
func (n *Naming) LookupByIdentifier(ctx context.Context, id string) (*Concept, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, apperrors.Validation("concept identifier is required")
	}

	return n.resolve(ctx, "concept:"+id, func(ctx context.Context) (*Concept, error) {
		var wire Concept
		if err := n.core.fetch(ctx, n.core.baseURL+"/concepts/"+url.PathEscape(id), &wire); err != nil {
			return nil, err
		}
		wire.normalize()
		return &wire, nil
	})
}

// LookupByName resolves a concept by exact (folded) drug name.
func (n *Naming) LookupByName(ctx context.Context, name string) (*Concept, bool, error) {
	folded := FoldName(name)
	if folded == "" {
		return nil, false, apperrors.Validation("drug name is required")
	}

	return n.resolve(ctx, "name:"+folded, func(ctx context.Context) (*Concept, error) {
		var wire struct {
			Concepts []Concept `json:"concepts"`
		}
		endpoint := n.core.baseURL + "/concepts?name=" + url.QueryEscape(folded)
		if err := n.core.fetch(ctx, endpoint, &wire); err != nil {
			return nil, err
		}
		if len(wire.Concepts) == 0 {
			return nil, nil
		}
		best := wire.Concepts[0]
		best.normalize()
		return &best, nil
	})
}

// ApproximateMatch resolves the best fuzzy match for a free-text term.
func (n *Naming) ApproximateMatch(ctx context.Context, term string) (*Concept, bool, error) {
	folded := FoldName(term)
	if folded == "" {
		return nil, false, apperrors.Validation("search term is required")
	}

	return n.resolve(ctx, "approx:"+folded, func(ctx context.Context) (*Concept, error) {
		var wire struct {
			Candidates []Concept `json:"candidates"`
		}
		endpoint := n.core.baseURL + "/concepts/approximate?term=" + url.QueryEscape(folded)
		if err := n.core.fetch(ctx, endpoint, &wire); err != nil {
			return nil, err
		}
		if len(wire.Candidates) == 0 {
			return nil, nil
		}
		best := wire.Candidates[0]
		best.normalize()
		return &best, nil
	})
}

// resolve runs the shared lookup path: fresh cache, remote fetch,
// negative caching, then stale fallback when the upstream is down.
func (n *Naming) resolve(ctx context.Context, key string, fetch func(context.Context) (*Concept, error)) (*Concept, bool, error) {
	if entry, _, ok := n.cache.GetWithStale(key, false); ok {
		metrics.RegistryCacheEvents.WithLabelValues("naming", "hit").Inc()
		return entry.Concept, false, nil
	}
	metrics.RegistryCacheEvents.WithLabelValues("naming", "miss").Inc()

	concept, err := fetch(ctx)
	switch {
	case err == nil:
		n.cache.Set(key, namingEntry{Concept: concept})
		return concept, false, nil

	case errors.Is(err, errNoResult):
		n.cache.Set(key, namingEntry{})
		return nil, false, nil

	case apperrors.IsKind(err, apperrors.KindRateLimit):
		return nil, false, err

	default:
		if entry, stale, ok := n.cache.GetWithStale(key, true); ok {
			metrics.RegistryCacheEvents.WithLabelValues("naming", cacheEventFor(stale)).Inc()
			if stale {
				logging.Warn("Serving stale naming registry data", "key", key, "error", err)
			}
			return entry.Concept, stale, nil
		}
		return nil, false, err
	}
}

// CacheStats exposes cache counters for health and metrics.
func (n *Naming) CacheStats() resilience.CacheStats {
	return n.cache.Stats()
}

// PurgeExpired sweeps entries past their stale TTL and returns how many
// were removed.
func (n *Naming) PurgeExpired() int {
	return n.cache.PurgeExpired()
}

// LastSuccess returns when the naming registry last answered.
func (n *Naming) LastSuccess() time.Time {
	return n.core.LastSuccess()
}

// BreakerState exposes the circuit state for health reporting.
func (n *Naming) BreakerState() resilience.BreakerState {
	return n.core.BreakerState()
}
