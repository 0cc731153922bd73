package market

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

func openTestCache(t *testing.T) *PebbleCache {
	t.Helper()
	dir := t.TempDir()
	c, err := OpenPebbleCache(filepath.Join(dir, "markets"))
	if err != nil {
		t.Fatalf("open pebble cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPebbleCacheSaveAndLoad(t *testing.T) {
	c := openTestCache(t)
	yes := common.HexToHash("0x01")
	no := common.HexToHash("0x02")
	m := domain.Market{YesTokenID: yes, NoTokenID: no, ConditionID: common.HexToHash("0xaa"), Question: "will it rain"}

	if err := c.Save(m); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := c.Load(yes)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit for the yes token")
	}
	if loaded.Question != "will it rain" {
		t.Fatalf("unexpected loaded market: %+v", loaded)
	}

	if _, ok, _ := c.Load(no); !ok {
		t.Fatal("expected both outcome legs to be cached")
	}
}

func TestPebbleCacheLoadMissReturnsFalse(t *testing.T) {
	c := openTestCache(t)
	_, ok, err := c.Load(common.HexToHash("0xffff"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected a miss for an unknown token")
	}
}

func TestPebbleCacheLoadAllReplaysIntoRegistry(t *testing.T) {
	c := openTestCache(t)
	m1 := domain.Market{YesTokenID: common.HexToHash("0x10"), NoTokenID: common.HexToHash("0x11"), ConditionID: common.HexToHash("0xbb")}
	m2 := domain.Market{YesTokenID: common.HexToHash("0x20"), NoTokenID: common.HexToHash("0x21"), ConditionID: common.HexToHash("0xcc")}
	if err := c.Save(m1); err != nil {
		t.Fatalf("save m1: %v", err)
	}
	if err := c.Save(m2); err != nil {
		t.Fatalf("save m2: %v", err)
	}

	reg := NewRegistry(&fakeFetcher{})
	if err := c.LoadAll(reg); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if reg.Count() != 2 {
		t.Fatalf("expected 2 markets replayed, got %d", reg.Count())
	}
	if _, ok := reg.Resolve(m1.YesTokenID); !ok {
		t.Fatal("expected m1's yes token resolvable after warm start")
	}
}

func TestCachingFetcherPersistsSuccessfulResolve(t *testing.T) {
	tokenID := common.HexToHash("0x30")
	m := domain.Market{YesTokenID: tokenID, NoTokenID: common.HexToHash("0x31"), ConditionID: common.HexToHash("0xdd")}
	inner := &fakeFetcher{markets: map[common.Hash]domain.Market{tokenID: m}}
	cache := openTestCache(t)

	f := NewCachingFetcher(inner, cache)
	got, err := f.FetchByTokenID(context.Background(), tokenID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.YesTokenID != tokenID {
		t.Fatalf("unexpected market returned: %+v", got)
	}

	cached, ok, err := cache.Load(tokenID)
	if err != nil {
		t.Fatalf("load after fetch: %v", err)
	}
	if !ok || cached.YesTokenID != tokenID {
		t.Fatal("expected the successful fetch to be persisted to the cache")
	}
}

func TestCachingFetcherDoesNotCacheOnInnerError(t *testing.T) {
	tokenID := common.HexToHash("0x40")
	inner := &fakeFetcher{}
	cache := openTestCache(t)

	f := NewCachingFetcher(inner, cache)
	_, err := f.FetchByTokenID(context.Background(), tokenID)
	if err == nil {
		t.Fatal("expected an error from the inner fetcher")
	}
	if _, ok, _ := cache.Load(tokenID); ok {
		t.Fatal("expected nothing cached when the inner fetch failed")
	}
}
