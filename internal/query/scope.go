package query

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/pkg/logger"
)

// StoreLister reads the canonical store list.
type StoreLister interface {
	ListStores(ctx context.Context) ([]models.Store, error)
}

const storeListKey = "stores"

var allStoresKeywords = map[string]bool{
	"all":  true,
	"전체":   true,
	"모든":   true,
	"전지점":  true,
	"모든지점": true,
	"전체지점": true,
}

// StoreDirectory resolves free-text location references to store ids. The
// store list is cached for the configured TTL.
type StoreDirectory struct {
	lister StoreLister
	cache  *ttlcache.Cache[string, []models.Store]
}

func NewStoreDirectory(lister StoreLister, ttl time.Duration) *StoreDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cache := ttlcache.New[string, []models.Store](
		ttlcache.WithTTL[string, []models.Store](ttl),
		ttlcache.WithDisableTouchOnHit[string, []models.Store](),
	)
	return &StoreDirectory{lister: lister, cache: cache}
}

func (d *StoreDirectory) Stores(ctx context.Context) ([]models.Store, error) {
	stores, _, err := d.stores(ctx)
	return stores, err
}

func (d *StoreDirectory) stores(ctx context.Context) ([]models.Store, bool, error) {
	if item := d.cache.Get(storeListKey); item != nil {
		metrics.CacheHits.WithLabelValues("stores").Inc()
		return item.Value(), true, nil
	}
	metrics.CacheMisses.WithLabelValues("stores").Inc()

	stores, err := d.lister.ListStores(ctx)
	if err != nil {
		return nil, false, err
	}
	d.cache.Set(storeListKey, stores, ttlcache.DefaultTTL)
	return stores, false, nil
}

// Invalidate drops the cached store list.
func (d *StoreDirectory) Invalidate() {
	d.cache.DeleteAll()
}

// Resolve matches every location against the store list. No locations (or an
// "all" keyword) selects every store. A single unmatched or ambiguous
// location empties the whole resolution. A miss against a cached list is
// retried once against a fresh one, so newly opened stores resolve.
func (d *StoreDirectory) Resolve(ctx context.Context, locations []string) (ScopeResolution, error) {
	stores, cached, err := d.stores(ctx)
	if err != nil {
		return ScopeResolution{}, err
	}

	res := resolveAgainst(stores, locations)
	if len(res.Unmatched) > 0 && cached {
		d.Invalidate()
		if stores, _, err = d.stores(ctx); err != nil {
			return ScopeResolution{}, err
		}
		res = resolveAgainst(stores, locations)
	}

	if len(res.Unmatched) > 0 {
		logger.Info("Location reference not resolved",
			zap.Strings("unmatched", res.Unmatched),
			zap.Strings("locations", locations),
		)
	}
	return res, nil
}

func resolveAgainst(stores []models.Store, locations []string) ScopeResolution {

	refs := make([]string, 0, len(locations))
	for _, loc := range locations {
		key := normalizeLocation(loc)
		if key == "" {
			continue
		}
		if allStoresKeywords[key] {
			return allScope(stores)
		}
		refs = append(refs, loc)
	}
	if len(refs) == 0 {
		return allScope(stores)
	}

	var res ScopeResolution
	seen := make(map[int64]bool)
	for _, ref := range refs {
		matched := matchLocation(stores, normalizeLocation(ref))
		if len(matched) == 0 {
			res.Unmatched = append(res.Unmatched, ref)
			continue
		}
		for _, st := range matched {
			if seen[st.ID] {
				continue
			}
			seen[st.ID] = true
			res.StoreIDs = append(res.StoreIDs, st.ID)
			res.StoreNames = append(res.StoreNames, st.Name)
		}
	}

	if len(res.Unmatched) > 0 {
		return ScopeResolution{Unmatched: res.Unmatched}
	}
	return res
}

func allScope(stores []models.Store) ScopeResolution {
	res := ScopeResolution{AllStores: true}
	for _, st := range stores {
		res.StoreIDs = append(res.StoreIDs, st.ID)
		res.StoreNames = append(res.StoreNames, st.Name)
	}
	return res
}

// matchLocation tries, in order: exact store name, region or city (which
// selects the whole group), then a unique partial store name.
func matchLocation(stores []models.Store, key string) []models.Store {
	for _, st := range stores {
		if normalizeLocation(st.Name) == key {
			return []models.Store{st}
		}
	}

	var group []models.Store
	for _, st := range stores {
		if normalizeLocation(st.Region) == key || normalizeLocation(st.City) == key {
			group = append(group, st)
		}
	}
	if len(group) > 0 {
		return group
	}

	var partial []models.Store
	for _, st := range stores {
		if strings.Contains(normalizeLocation(st.Name), key) {
			partial = append(partial, st)
		}
	}
	if len(partial) == 1 {
		return partial
	}
	return nil
}

// normalizeLocation drops whitespace, case and a trailing "점" so that
// "강남 점", "강남점" and "강남" compare equal.
func normalizeLocation(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	return strings.TrimSuffix(s, "점")
}
