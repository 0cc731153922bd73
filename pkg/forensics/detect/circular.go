package detect

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

const (
	circularMaxCycles  = 10000
	circularMinLen     = 2
	circularMaxLen     = 4
	circularConfMin    = 0.6
	circularConfMax    = 0.9
)

// arena is an index-addressed directed multigraph, built once per market:
// nodes are integer indices into addrs, edges are (from, to, volume)
// triples stored by adjacency list. Using integer indices rather than
// pointer-owning back-references keeps cycle detection free of aliasing
// concerns.
type arena struct {
	addrs []common.Address
	index map[common.Address]int
	adj   [][]edge
}

type edge struct {
	to     int
	volume int64
	txs    []common.Hash
}

func newArena() *arena {
	return &arena{index: make(map[common.Address]int)}
}

func (a *arena) nodeIndex(addr common.Address) int {
	if idx, ok := a.index[addr]; ok {
		return idx
	}
	idx := len(a.addrs)
	a.addrs = append(a.addrs, addr)
	a.adj = append(a.adj, nil)
	a.index[addr] = idx
	return idx
}

func (a *arena) addEdge(from, to common.Address, volume int64, tx common.Hash) {
	if from == to {
		return
	}
	fi, ti := a.nodeIndex(from), a.nodeIndex(to)
	for i := range a.adj[fi] {
		if a.adj[fi][i].to == ti {
			a.adj[fi][i].volume += volume
			a.adj[fi][i].txs = append(a.adj[fi][i].txs, tx)
			return
		}
	}
	a.adj[fi] = append(a.adj[fi], edge{to: ti, volume: volume, txs: []common.Hash{tx}})
}

// CircularTradeDetector finds simple directed cycles of length 2-4 over
// the taker->maker trade graph within each market.
type CircularTradeDetector struct{}

func (d *CircularTradeDetector) Kind() domain.Kind { return domain.KindCircularTrade }

func (d *CircularTradeDetector) Scan(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, error) {
	w := windowed(full, win)

	byToken := make(map[common.Hash][]domain.Trade)
	for _, t := range w.Trades {
		byToken[t.TokenID] = append(byToken[t.TokenID], t)
	}

	var out []domain.Evidence
	cyclesFound := 0
	for tokenID, trades := range byToken {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if cyclesFound >= circularMaxCycles {
			break
		}

		g := newArena()
		var lastTs int64
		for _, t := range trades {
			g.addEdge(t.Taker, t.Maker, int64(t.Volume), t.Key.TxHash)
			if t.Timestamp > lastTs {
				lastTs = t.Timestamp
			}
		}

		found := findCycles(g, circularMinLen, circularMaxLen, circularMaxCycles-cyclesFound)
		cyclesFound += len(found)

		for _, cyc := range found {
			minVol, maxVol := cyc.edges[0].volume, cyc.edges[0].volume
			ev := domain.NewEvidence(domain.KindCircularTrade, 0, lastTs, tokenID)
			for _, e := range cyc.edges {
				if e.volume < minVol {
					minVol = e.volume
				}
				if e.volume > maxVol {
					maxVol = e.volume
				}
				for _, tx := range e.txs {
					ev.AddTx(tx)
				}
			}
			for _, nodeIdx := range cyc.nodes {
				ev.AddAddress(g.addrs[nodeIdx])
			}
			ratio := 0.0
			if maxVol > 0 {
				ratio = float64(minVol) / float64(maxVol)
			}
			confidence := circularConfMin + 0.1*ratio
			if confidence > circularConfMax {
				confidence = circularConfMax
			}
			ev.Confidence = confidence
			ev.Details["cycle_length"] = len(cyc.nodes)
			ev.Volume = maxVol
			out = append(out, ev)
		}
	}
	return sortedEvidence(out), nil
}

type cycle struct {
	nodes []int
	edges []edge
}

// findCycles enumerates simple directed cycles of length [minLen,maxLen]
// starting from the lowest-indexed node in the cycle (to avoid reporting
// the same cycle once per rotation), capped at limit results.
func findCycles(g *arena, minLen, maxLen, limit int) []cycle {
	var results []cycle
	if limit <= 0 {
		return results
	}

	var path []int
	var pathEdges []edge
	onPath := make([]bool, len(g.addrs))

	var dfs func(start, cur, depth int)
	dfs = func(start, cur, depth int) {
		if len(results) >= limit {
			return
		}
		if depth > maxLen {
			return
		}
		for _, e := range g.adj[cur] {
			if len(results) >= limit {
				return
			}
			if e.to == start && depth >= minLen {
				nodes := append([]int(nil), path...)
				edges := append([]edge(nil), pathEdges...)
				edges = append(edges, e)
				results = append(results, cycle{nodes: nodes, edges: edges})
				continue
			}
			if e.to < start || onPath[e.to] {
				continue
			}
			if depth+1 > maxLen {
				continue
			}
			path = append(path, e.to)
			pathEdges = append(pathEdges, e)
			onPath[e.to] = true
			dfs(start, e.to, depth+1)
			onPath[e.to] = false
			path = path[:len(path)-1]
			pathEdges = pathEdges[:len(pathEdges)-1]
		}
	}

	for start := range g.addrs {
		if len(results) >= limit {
			break
		}
		path = []int{start}
		pathEdges = nil
		onPath[start] = true
		dfs(start, start, 1)
		onPath[start] = false
	}
	return results
}
