package market

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

// PebbleCache persists the Registry's token-id → Market map across
// restarts, so a warm start doesn't need to re-fetch every market from the
// external catalog. It is an optional write-behind companion to Registry,
// never the resolver's source of truth.
type PebbleCache struct {
	db *pebble.DB
}

const marketKeyPrefix = "mkt:"

func marketKey(tokenID common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", marketKeyPrefix, tokenID.Hex()))
}

func OpenPebbleCache(path string) (*PebbleCache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleCache{db: db}, nil
}

func (c *PebbleCache) Close() error { return c.db.Close() }

// Save persists both outcome legs of m.
func (c *PebbleCache) Save(m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal market: %w", err)
	}
	b := c.db.NewBatch()
	defer b.Close()
	if err := b.Set(marketKey(m.YesTokenID), data, nil); err != nil {
		return err
	}
	if err := b.Set(marketKey(m.NoTokenID), data, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// Load returns the cached Market for tokenID, if present.
func (c *PebbleCache) Load(tokenID common.Hash) (domain.Market, bool, error) {
	val, closer, err := c.db.Get(marketKey(tokenID))
	if err == pebble.ErrNotFound {
		return domain.Market{}, false, nil
	}
	if err != nil {
		return domain.Market{}, false, fmt.Errorf("load market: %w", err)
	}
	defer closer.Close()

	var m domain.Market
	if err := json.Unmarshal(val, &m); err != nil {
		return domain.Market{}, false, fmt.Errorf("unmarshal market: %w", err)
	}
	return m, true, nil
}

// CachingFetcher wraps a MetadataFetcher, persisting every successful fetch
// to the PebbleCache so a restart's warm start can skip re-querying the
// external catalog for markets already seen.
type CachingFetcher struct {
	inner MetadataFetcher
	cache *PebbleCache
}

func NewCachingFetcher(inner MetadataFetcher, cache *PebbleCache) *CachingFetcher {
	return &CachingFetcher{inner: inner, cache: cache}
}

func (f *CachingFetcher) FetchByTokenID(ctx context.Context, tokenID common.Hash) (domain.Market, error) {
	m, err := f.inner.FetchByTokenID(ctx, tokenID)
	if err != nil {
		return m, err
	}
	if err := f.cache.Save(m); err != nil {
		return m, nil // cache write failure must not fail a successful resolve
	}
	return m, nil
}

func (f *CachingFetcher) FetchByConditionID(ctx context.Context, conditionID common.Hash) (domain.Market, error) {
	m, err := f.inner.FetchByConditionID(ctx, conditionID)
	if err != nil {
		return m, err
	}
	if err := f.cache.Save(m); err != nil {
		return m, nil
	}
	return m, nil
}

// LoadAll replays every cached market into a Registry on startup.
func (c *PebbleCache) LoadAll(into *Registry) error {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(marketKeyPrefix),
		UpperBound: []byte("mkt;"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var m domain.Market
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		into.Put(m)
	}
	return nil
}
