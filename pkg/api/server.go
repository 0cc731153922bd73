package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/polyforensic/pipeline/pkg/forensics/alertbus"
	"github.com/polyforensic/pipeline/pkg/forensics/chain"
	"github.com/polyforensic/pipeline/pkg/forensics/detect"
	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/fixedpoint"
	"github.com/polyforensic/pipeline/pkg/forensics/health"
	"github.com/polyforensic/pipeline/pkg/forensics/market"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
	"github.com/polyforensic/pipeline/pkg/forensics/stream"
)

// Server handles the forensic pipeline's REST API and WebSocket fan-out.
type Server struct {
	log      *zap.SugaredLogger
	router   *mux.Router
	bus      *alertbus.Bus
	store    *store.Store
	registry *market.Registry
	health   *health.Aggregator
	ctrl     *stream.Controller
	chain    chain.ChainReader

	addresses []common.Address
}

// NewServer wires the REST/WS surface around the already-constructed
// forensic pipeline components.
func NewServer(log *zap.SugaredLogger, st *store.Store, registry *market.Registry, agg *health.Aggregator, bus *alertbus.Bus, ctrl *stream.Controller, cr chain.ChainReader, addresses []common.Address) *Server {
	s := &Server{
		log:       log,
		router:    mux.NewRouter(),
		bus:       bus,
		store:     st,
		registry:  registry,
		health:    agg,
		ctrl:      ctrl,
		chain:     cr,
		addresses: addresses,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/trades/timeline", s.handleGetTimeline).Methods("GET")
	api.HandleFunc("/trades/analysis/full", s.handleAnalysisFull).Methods("GET")
	api.HandleFunc("/trades/analysis/flagged-tx", s.handleFlaggedTx).Methods("GET")
	api.HandleFunc("/trades/analysis/advanced/market-health", s.handleMarketHealth).Methods("GET")
	api.HandleFunc("/trades/analysis/advanced/{kind}", s.handleAdvancedAnalysis).Methods("GET")
	api.HandleFunc("/trades/analysis/{kind}", s.handleBasicAnalysis).Methods("GET")

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/hot", s.handleGetHotMarkets).Methods("GET")
	api.HandleFunc("/markets/{token_id}", s.handleGetMarket).Methods("GET")

	api.HandleFunc("/alerts", s.handleGetAlerts).Methods("GET")
	api.HandleFunc("/alerts/recent", s.handleGetRecentAlerts).Methods("GET")
	api.HandleFunc("/alerts/stats", s.handleAlertStats).Methods("GET")

	api.HandleFunc("/system/stats", s.handleSystemStats).Methods("GET")
	api.HandleFunc("/system/fetch", s.handleSystemFetch).Methods("POST")
	api.HandleFunc("/system/stream/start", s.handleStreamStart).Methods("POST")
	api.HandleFunc("/system/stream/stop", s.handleStreamStop).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
}

// Start serves the REST/WS surface on addr, blocking until the listener
// fails.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)
	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Trades
// ==============================

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	f, err := parseTradeFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}
	trades := s.store.QueryTrades(f)
	respondJSON(w, tradeInfos(trades))
}

func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	interval := queryInt(r, "interval", 300)
	if hours < 1 || hours > 168 {
		respondError(w, http.StatusBadRequest, "invalid hours", "hours must be in [1,168]")
		return
	}
	if interval <= 0 {
		respondError(w, http.StatusBadRequest, "invalid interval", "interval must be positive")
		return
	}

	since := time.Now().Unix() - int64(hours)*3600
	trades := s.store.QueryTrades(store.TradeFilter{Since: since})

	type bucketAccum struct {
		count  int
		volume int64
	}
	buckets := make(map[int64]*bucketAccum)
	for _, t := range trades {
		b := t.Timestamp - t.Timestamp%int64(interval)
		ba, ok := buckets[b]
		if !ok {
			ba = &bucketAccum{}
			buckets[b] = ba
		}
		ba.count++
		ba.volume += int64(t.Volume)
	}

	out := make([]TimelineBucket, 0, len(buckets))
	for start, ba := range buckets {
		out = append(out, TimelineBucket{
			BucketStart: start,
			TradeCount:  ba.count,
			Volume:      fixedpoint.Amount6(ba.volume).Decimal().String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	respondJSON(w, out)
}

// ==============================
// Analysis
// ==============================

var basicDetectorKinds = map[string]domain.Kind{
	"insider":      domain.KindNewWalletInsider,
	"high-winrate": domain.KindHighWinRate,
	"gas-anomaly":  domain.KindGasAnomaly,
}

var advancedDetectorKinds = map[string]domain.Kind{
	"self-trades":     domain.KindSelfTrade,
	"circular-trades": domain.KindCircularTrade,
	"atomic-wash":     domain.KindAtomicWash,
	"volume-spikes":   domain.KindVolumeSpike,
	"sybil-clusters":  domain.KindSybilCluster,
}

func (s *Server) handleBasicAnalysis(w http.ResponseWriter, r *http.Request) {
	kind, ok := basicDetectorKinds[mux.Vars(r)["kind"]]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown analysis kind", "")
		return
	}
	s.runDetectorAndRespond(w, r, kind)
}

func (s *Server) handleAdvancedAnalysis(w http.ResponseWriter, r *http.Request) {
	kind, ok := advancedDetectorKinds[mux.Vars(r)["kind"]]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown analysis kind", "")
		return
	}
	s.runDetectorAndRespond(w, r, kind)
}

func (s *Server) runDetectorAndRespond(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	snap := s.store.Snapshot(time.Now().Unix())
	for _, d := range detect.All() {
		if d.Kind() != kind {
			continue
		}
		ev, err := d.Scan(ctx, &snap, detect.Window{})
		if err != nil {
			respondError(w, http.StatusInternalServerError, "detector failed", err.Error())
			return
		}
		respondJSON(w, evidenceInfos(ev))
		return
	}
	respondError(w, http.StatusNotFound, "unknown analysis kind", "")
}

func (s *Server) handleAnalysisFull(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	snap := s.store.Snapshot(time.Now().Unix())
	evidence, errs := detect.RunAll(ctx, &snap, detect.Window{})
	for _, e := range errs {
		s.log.Warnw("analysis_full_detector_error", "err", e)
	}
	respondJSON(w, evidenceInfos(evidence))
}

func (s *Server) handleFlaggedTx(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	analysisType := r.URL.Query().Get("analysis_type")
	snap := s.store.Snapshot(time.Now().Unix())

	var evidence []domain.Evidence
	if analysisType == "" {
		var errs []error
		evidence, errs = detect.RunAll(ctx, &snap, detect.Window{})
		for _, e := range errs {
			s.log.Warnw("flagged_tx_detector_error", "err", e)
		}
	} else {
		kind, ok := basicDetectorKinds[analysisType]
		if !ok {
			kind, ok = advancedDetectorKinds[analysisType]
		}
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown analysis_type", analysisType)
			return
		}
		for _, d := range detect.All() {
			if d.Kind() != kind {
				continue
			}
			ev, err := d.Scan(ctx, &snap, detect.Window{})
			if err != nil {
				respondError(w, http.StatusInternalServerError, "detector failed", err.Error())
				return
			}
			evidence = ev
		}
	}

	out := make([]FlaggedTx, 0, len(evidence))
	for _, e := range evidence {
		addrs := make([]string, 0, len(e.Addresses))
		for a := range e.Addresses {
			addrs = append(addrs, a.Hex())
		}
		for tx := range e.Transactions {
			out = append(out, FlaggedTx{TxHash: tx.Hex(), Addresses: addrs, Kind: string(e.Kind), Confidence: e.Confidence})
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleMarketHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	tokenIDHex := r.URL.Query().Get("token_id")
	snap := s.store.Snapshot(time.Now().Unix())
	evidence, errs := detect.RunAll(ctx, &snap, detect.Window{})
	for _, e := range errs {
		s.log.Warnw("market_health_detector_error", "err", e)
	}

	if tokenIDHex != "" {
		health := s.health.Score(common.HexToHash(tokenIDHex), evidence)
		respondJSON(w, marketHealthInfo(health))
		return
	}

	seen := make(map[common.Hash]struct{})
	for _, e := range evidence {
		seen[e.TokenID] = struct{}{}
	}
	out := make([]MarketHealthInfo, 0, len(seen))
	for tokenID := range seen {
		out = append(out, marketHealthInfo(s.health.Score(tokenID, evidence)))
	}
	respondJSON(w, out)
}

// ==============================
// Markets
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, []MarketInfo{}) // the registry has no full-listing API; populated incrementally via Resolve
}

func (s *Server) handleGetHotMarkets(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot(time.Now().Unix())
	volByToken := make(map[common.Hash]int64)
	for _, t := range snap.Trades {
		volByToken[t.TokenID] += int64(t.Volume)
	}
	type entry struct {
		tokenID common.Hash
		volume  int64
	}
	entries := make([]entry, 0, len(volByToken))
	for id, v := range volByToken {
		entries = append(entries, entry{id, v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].volume > entries[j].volume })
	if len(entries) > 20 {
		entries = entries[:20]
	}

	out := make([]MarketInfo, 0, len(entries))
	for _, e := range entries {
		if m, ok := s.registry.Resolve(e.tokenID); ok {
			out = append(out, marketInfo(m))
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	tokenID := common.HexToHash(mux.Vars(r)["token_id"])
	m, ok := s.registry.Resolve(tokenID)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}
	respondJSON(w, marketInfo(m))
}

// ==============================
// Alerts
// ==============================

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	respondJSON(w, alertInfos(s.store.RecentAlerts(limit)))
}

func (s *Server) handleGetRecentAlerts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, alertInfos(s.store.RecentAlerts(20)))
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	alerts := s.store.RecentAlerts(10_000)
	bySeverity := make(map[string]int)
	for _, a := range alerts {
		bySeverity[string(a.Severity)]++
	}
	respondJSON(w, map[string]any{"total": len(alerts), "bySeverity": bySeverity})
}

// ==============================
// System
// ==============================

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.statsInfo())
}

func (s *Server) statsInfo() StatsInfo {
	st := s.store.Stats()
	info := StatsInfo{
		TotalTrades:    st.TotalTrades,
		TotalVolume:    fixedpoint.Amount6(st.TotalVolume).Decimal().String(),
		WashTradeCount: st.WashTradeCount,
		TotalAlerts:    st.TotalAlerts,
		IsStreaming:    st.IsStreaming,
		KnownMarkets:   s.registry.Count(),
	}
	if s.ctrl != nil {
		info.ControllerState = s.ctrl.State().String()
		info.LastBlock = s.ctrl.LastBlock()
	}
	return info
}

func (s *Server) handleSystemFetch(w http.ResponseWriter, r *http.Request) {
	blocks := queryInt(r, "blocks", 1000)
	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	head, err := s.chain.GetBlockNumber(ctx)
	if err != nil {
		respondError(w, http.StatusBadGateway, "upstream unavailable", err.Error())
		return
	}
	from := head - int64(blocks)
	if from < 0 {
		from = 0
	}

	logs, err := s.chain.GetLogs(ctx, from, head, s.addresses)
	if err != nil {
		respondError(w, http.StatusBadGateway, "fetch failed", err.Error())
		return
	}
	respondJSON(w, map[string]any{"status": "fetched", "fromBlock": from, "toBlock": head, "logCount": len(logs)})
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	pollInterval := time.Duration(queryInt(r, "poll_interval", 5)) * time.Second
	blocksPerPoll := int64(queryInt(r, "blocks_per_poll", 2000))

	s.ctrl.Start(context.Background(), pollInterval, blocksPerPoll, s.addresses)
	s.store.SetStreaming(true)
	respondJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	s.store.SetStreaming(false)
	respondJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func parseTradeFilter(r *http.Request) (store.TradeFilter, error) {
	q := r.URL.Query()
	f := store.TradeFilter{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
		Since:  int64(queryInt(r, "since", 0)),
		Until:  int64(queryInt(r, "until", 0)),
	}
	if f.Limit < 1 || f.Limit > 5000 {
		return f, errors.New("limit must be in [1,5000]")
	}
	if v := q.Get("token_id"); v != "" {
		f.TokenID = common.HexToHash(v)
	}
	if v := q.Get("address"); v != "" {
		if !common.IsHexAddress(v) {
			return f, errors.New("invalid address")
		}
		f.Address = common.HexToAddress(v)
	}
	if v := q.Get("side"); v != "" {
		f.Side = domain.Side(strings.ToUpper(v))
	}
	return f, nil
}

func defaultTradeFilter() store.TradeFilter {
	return store.TradeFilter{Limit: 50}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func tradeInfos(trades []domain.Trade) []TradeInfo {
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = TradeInfo{
			TxHash:      t.Key.TxHash.Hex(),
			LogIndex:    t.Key.LogIndex,
			TokenID:     t.TokenID.Hex(),
			Maker:       t.Maker.Hex(),
			Taker:       t.Taker.Hex(),
			Side:        string(t.Side),
			Price:       t.Price.Decimal().String(),
			Size:        t.Size.Decimal().String(),
			Volume:      t.Volume.Decimal().String(),
			Timestamp:   t.Timestamp,
			MarketKnown: t.MarketKnown,
		}
	}
	return out
}

func evidenceInfos(evidence []domain.Evidence) []EvidenceInfo {
	out := make([]EvidenceInfo, len(evidence))
	for i, e := range evidence {
		addrs := make([]string, 0, len(e.Addresses))
		for a := range e.Addresses {
			addrs = append(addrs, a.Hex())
		}
		sort.Strings(addrs)
		txs := make([]string, 0, len(e.Transactions))
		for tx := range e.Transactions {
			txs = append(txs, tx.Hex())
		}
		sort.Strings(txs)
		out[i] = EvidenceInfo{
			Kind:         string(e.Kind),
			Confidence:   e.Confidence,
			Timestamp:    e.Timestamp,
			TokenID:      e.TokenID.Hex(),
			Addresses:    addrs,
			Transactions: txs,
			Volume:       fixedpoint.Amount6(e.Volume).Decimal().String(),
			Details:      e.Details,
		}
	}
	return out
}

func alertInfos(alerts []domain.Alert) []AlertInfo {
	out := make([]AlertInfo, len(alerts))
	for i, a := range alerts {
		out[i] = AlertInfo{
			ID:       a.ID,
			Evidence: evidenceInfos([]domain.Evidence{a.Evidence})[0],
			Severity: string(a.Severity),
			Ack:      a.Ack,
		}
	}
	return out
}

func marketInfo(m domain.Market) MarketInfo {
	return MarketInfo{
		ConditionID: m.ConditionID.Hex(),
		QuestionID:  m.QuestionID.Hex(),
		Oracle:      m.Oracle.Hex(),
		YesTokenID:  m.YesTokenID.Hex(),
		NoTokenID:   m.NoTokenID.Hex(),
		Slug:        m.Slug,
		Question:    m.Question,
		Status:      m.Status.String(),
	}
}

func marketHealthInfo(h domain.MarketHealth) MarketHealthInfo {
	byType := make(map[string]int, len(h.EvidenceCountByType))
	for k, v := range h.EvidenceCountByType {
		byType[string(k)] = v
	}
	top := make([]SuspiciousInfo, len(h.TopSuspicious))
	for i, sa := range h.TopSuspicious {
		top[i] = SuspiciousInfo{Address: sa.Address.Hex(), RiskScore: sa.RiskScore, EvidenceCount: sa.EvidenceCount}
	}
	return MarketHealthInfo{
		TokenID:             h.TokenID.Hex(),
		Score:               h.Score,
		RiskLevel:           string(h.RiskLevel),
		EvidenceCountByType: byType,
		TopSuspicious:       top,
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Detail: detail})
}
