package market

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/ferrors"
)

// Registry is the Market Resolver's exclusive cache: token-id → Market. It
// is the only component that owns the Market collection.
//
// A trade for an unknown token-id is never blocked on: Resolve returns
// (Market{}, false) immediately and the caller schedules ResolveAsync to
// fill the cache from the external catalog. A successful resolve fills
// only this cache: the already-stored trade record is not rewritten and
// keeps MarketKnown=false.
type Registry struct {
	mu       sync.RWMutex
	byToken  map[common.Hash]domain.Market
	fetcher  MetadataFetcher
	inflight map[common.Hash]struct{}
}

func NewRegistry(fetcher MetadataFetcher) *Registry {
	return &Registry{
		byToken:  make(map[common.Hash]domain.Market),
		fetcher:  fetcher,
		inflight: make(map[common.Hash]struct{}),
	}
}

// Resolve looks up a token-id in the cache. It never calls the external
// fetcher itself.
func (r *Registry) Resolve(tokenID common.Hash) (domain.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byToken[tokenID]
	return m, ok
}

// Put registers both outcome token-ids of a resolved market, enforcing the
// invariant that a token-id belongs to at most one (market, outcome) pair.
func (r *Registry) Put(m domain.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken[m.YesTokenID] = m
	r.byToken[m.NoTokenID] = m
}

// ResolveAsync fetches market metadata for an unresolved token-id in the
// background, deduplicating concurrent lookups of the same token-id, and
// registers the result on success. The outcome is delivered as the
// returned channel's single value: nil on success, an error otherwise.
func (r *Registry) ResolveAsync(ctx context.Context, tokenID common.Hash) <-chan error {
	result := make(chan error, 1)

	r.mu.Lock()
	if _, ok := r.byToken[tokenID]; ok {
		r.mu.Unlock()
		result <- nil
		return result
	}
	if _, busy := r.inflight[tokenID]; busy {
		r.mu.Unlock()
		result <- ferrors.ErrCancelled
		return result
	}
	r.inflight[tokenID] = struct{}{}
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, tokenID)
			r.mu.Unlock()
		}()

		m, err := r.fetcher.FetchByTokenID(ctx, tokenID)
		if err != nil {
			result <- ferrors.Wrap(ferrors.ErrNotFound, "resolve market metadata", err)
			return
		}
		r.Put(m)
		result <- nil
	}()

	return result
}

// Count returns the number of distinct markets currently cached.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[common.Hash]struct{}, len(r.byToken)/2)
	for _, m := range r.byToken {
		seen[m.ConditionID] = struct{}{}
	}
	return len(seen)
}
