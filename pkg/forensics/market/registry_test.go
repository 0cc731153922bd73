package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

type fakeFetcher struct {
	markets map[common.Hash]domain.Market
	err     error
	calls   int
}

func (f *fakeFetcher) FetchByTokenID(ctx context.Context, tokenID common.Hash) (domain.Market, error) {
	f.calls++
	if f.err != nil {
		return domain.Market{}, f.err
	}
	m, ok := f.markets[tokenID]
	if !ok {
		return domain.Market{}, errors.New("not found")
	}
	return m, nil
}

func (f *fakeFetcher) FetchByConditionID(ctx context.Context, conditionID common.Hash) (domain.Market, error) {
	f.calls++
	return domain.Market{}, errors.New("not implemented")
}

func TestRegistryResolveMissReturnsFalse(t *testing.T) {
	r := NewRegistry(&fakeFetcher{})
	_, ok := r.Resolve(common.HexToHash("0x01"))
	if ok {
		t.Fatal("expected a miss on an empty registry")
	}
}

func TestRegistryPutRegistersBothOutcomeTokens(t *testing.T) {
	r := NewRegistry(&fakeFetcher{})
	yes := common.HexToHash("0x01")
	no := common.HexToHash("0x02")
	condition := common.HexToHash("0xaa")

	r.Put(domain.Market{YesTokenID: yes, NoTokenID: no, ConditionID: condition})

	if _, ok := r.Resolve(yes); !ok {
		t.Fatal("expected yes token to resolve")
	}
	if _, ok := r.Resolve(no); !ok {
		t.Fatal("expected no token to resolve")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 distinct market, got %d", r.Count())
	}
}

func TestRegistryResolveAsyncFillsCacheOnSuccess(t *testing.T) {
	tokenID := common.HexToHash("0x03")
	m := domain.Market{YesTokenID: tokenID, NoTokenID: common.HexToHash("0x04"), ConditionID: common.HexToHash("0xbb")}
	fetcher := &fakeFetcher{markets: map[common.Hash]domain.Market{tokenID: m}}
	r := NewRegistry(fetcher)

	errCh := r.ResolveAsync(context.Background(), tokenID)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolve")
	}

	if _, ok := r.Resolve(tokenID); !ok {
		t.Fatal("expected the token to be cached after a successful resolve")
	}
}

func TestRegistryResolveAsyncDedupsConcurrentLookups(t *testing.T) {
	tokenID := common.HexToHash("0x05")
	fetcher := &fakeFetcher{err: errors.New("slow failure")}
	r := NewRegistry(fetcher)

	r.mu.Lock()
	r.inflight[tokenID] = struct{}{}
	r.mu.Unlock()

	errCh := r.ResolveAsync(context.Background(), tokenID)
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error for a lookup already in flight")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dedup response")
	}

	r.mu.Lock()
	delete(r.inflight, tokenID)
	r.mu.Unlock()
}

func TestRegistryResolveAsyncIsNoopWhenAlreadyCached(t *testing.T) {
	tokenID := common.HexToHash("0x06")
	m := domain.Market{YesTokenID: tokenID, NoTokenID: common.HexToHash("0x07"), ConditionID: common.HexToHash("0xcc")}
	fetcher := &fakeFetcher{}
	r := NewRegistry(fetcher)
	r.Put(m)

	errCh := r.ResolveAsync(context.Background(), tokenID)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected the fetcher not to be called for an already-cached token, got %d calls", fetcher.calls)
	}
}
