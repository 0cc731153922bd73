package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/polyforensic/pipeline/pkg/forensics/alertbus"
	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/health"
	"github.com/polyforensic/pipeline/pkg/forensics/ingest"
	"github.com/polyforensic/pipeline/pkg/forensics/market"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
	"github.com/polyforensic/pipeline/pkg/forensics/stream"
)

type fakeChain struct {
	head int64
}

func (f *fakeChain) GetBlockNumber(ctx context.Context) (int64, error) { return f.head, nil }

func (f *fakeChain) GetLogs(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) GetBlockTimestamp(ctx context.Context, blockNumber int64) (int64, error) {
	return blockNumber * 10, nil
}

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st := store.New(100, 100, nil, nil)
	reg := market.NewRegistry(nil)
	agg := health.New()
	bus := alertbus.New(zap.NewNop().Sugar())
	dec := &ingest.Decoder{BlockTimestamp: func(bn int64) (int64, error) { return bn * 10, nil }}
	ctrl := stream.New(zap.NewNop().Sugar(), &fakeChain{head: 10}, dec, reg, st, 0, 3, nil)

	s := NewServer(zap.NewNop().Sugar(), st, reg, agg, bus, ctrl, &fakeChain{head: 10}, nil)
	return s, st
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheckReturnsOK(t *testing.T) {
	s, _ := testServer(t)
	rr := doRequest(s, "GET", "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetTradesReturnsEmptyListOnFreshStore(t *testing.T) {
	s, _ := testServer(t)
	rr := doRequest(s, "GET", "/api/trades")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out []TradeInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no trades, got %+v", out)
	}
}

func TestGetTradesRejectsOutOfRangeLimit(t *testing.T) {
	s, _ := testServer(t)
	rr := doRequest(s, "GET", "/api/trades?limit=10000")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range limit, got %d", rr.Code)
	}
}

func TestGetTradesReturnsStoredTrade(t *testing.T) {
	s, st := testServer(t)
	tr := domain.Trade{
		Key:     domain.TradeKey{TxHash: common.HexToHash("0x01"), LogIndex: 0},
		TokenID: common.HexToHash("0x02"),
		Maker:   common.HexToAddress("0xaa"),
		Taker:   common.HexToAddress("0xbb"),
		Side:    domain.Buy,
	}
	st.AddTrade(tr, false)

	rr := doRequest(s, "GET", "/api/trades")
	var out []TradeInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].TxHash != tr.Key.TxHash.Hex() {
		t.Fatalf("expected the stored trade to be returned, got %+v", out)
	}
}

func TestGetMarketsReturnsEmptyPlaceholderList(t *testing.T) {
	s, _ := testServer(t)
	rr := doRequest(s, "GET", "/api/markets")
	var out []MarketInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected an empty market list, got %+v", out)
	}
}

func TestGetMarketByTokenIDNotFound(t *testing.T) {
	s, _ := testServer(t)
	rr := doRequest(s, "GET", "/api/markets/0x01")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown market, got %d", rr.Code)
	}
}

func TestGetMarketByTokenIDFound(t *testing.T) {
	s, _ := testServer(t)
	yes := common.HexToHash("0x10")
	s.registry.Put(domain.Market{YesTokenID: yes, NoTokenID: common.HexToHash("0x11"), ConditionID: common.HexToHash("0x12"), Question: "q"})

	rr := doRequest(s, "GET", "/api/markets/"+yes.Hex())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out MarketInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Question != "q" {
		t.Fatalf("unexpected market: %+v", out)
	}
}

func TestGetAlertsReturnsEmptyListInitially(t *testing.T) {
	s, _ := testServer(t)
	rr := doRequest(s, "GET", "/api/alerts")
	var out []AlertInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no alerts, got %+v", out)
	}
}

func TestSystemStatsReflectsStoreAndController(t *testing.T) {
	s, st := testServer(t)
	st.AddTrade(domain.Trade{
		Key:     domain.TradeKey{TxHash: common.HexToHash("0x01"), LogIndex: 0},
		TokenID: common.HexToHash("0x02"),
	}, false)

	rr := doRequest(s, "GET", "/api/system/stats")
	var out StatsInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TotalTrades != 1 {
		t.Fatalf("expected 1 total trade, got %d", out.TotalTrades)
	}
	if out.ControllerState != "idle" {
		t.Fatalf("unexpected controller state: %q", out.ControllerState)
	}
}

func TestUnknownBasicAnalysisKindReturns404(t *testing.T) {
	s, _ := testServer(t)
	rr := doRequest(s, "GET", "/api/trades/analysis/not-a-real-kind")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestStreamStartAndStopTransitionsController(t *testing.T) {
	s, st := testServer(t)
	rr := doRequest(s, "POST", "/api/system/stream/start")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !st.Stats().IsStreaming {
		t.Fatal("expected the store to report streaming after start")
	}

	rr = doRequest(s, "POST", "/api/system/stream/stop")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if st.Stats().IsStreaming {
		t.Fatal("expected the store to report not streaming after stop")
	}
}
