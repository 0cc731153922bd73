// Package detect holds the eight wash-trading / manipulation detectors.
// Each is a pure function over a read-only store.Snapshot — a tagged set of
// {kind, scan} rather than an inheritance hierarchy, so adding a ninth
// detector never touches the other eight.
package detect

import (
	"context"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

// Window bounds an incremental detector re-scan to the trailing N minutes
// or the trailing K trades, whichever is smaller. A zero Window means
// "scan the full snapshot" (the on-demand API path).
type Window struct {
	TrailingSeconds int64
	MaxTrades       int
}

// DefaultWindow is the streaming-tick re-scan window: 60 minutes or 5,000
// trades, whichever is smaller.
var DefaultWindow = Window{TrailingSeconds: 3600, MaxTrades: 5000}

// Detector is implemented by each of the eight analyzers. Scan receives the
// full snapshot (some detectors need full-history facts, like a wallet's
// earliest trade) and the pre-computed window to actually scan.
type Detector interface {
	Kind() domain.Kind
	Scan(ctx context.Context, full *store.Snapshot, window Window) ([]domain.Evidence, error)
}

// windowed narrows full to the requested Window, or returns it unchanged
// when win is the zero value.
func windowed(full *store.Snapshot, win Window) store.Snapshot {
	if win.TrailingSeconds == 0 && win.MaxTrades == 0 {
		return *full
	}
	return full.Window(win.TrailingSeconds, win.MaxTrades)
}

// All returns the eight detectors in a fixed, stable order.
func All() []Detector {
	return []Detector{
		&InsiderDetector{},
		&WinRateDetector{},
		&GasAnomalyDetector{},
		&SelfTradeDetector{},
		&CircularTradeDetector{},
		&AtomicWashDetector{},
		&VolumeSpikeDetector{},
		&SybilClusterDetector{},
	}
}

// RunAll scans every detector over the same snapshot/window pair,
// honoring ctx cancellation between detectors. A single detector's error
// does not stop the others — callers collect (evidence, errs).
func RunAll(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, []error) {
	var evidence []domain.Evidence
	var errs []error
	for _, d := range All() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ev, err := d.Scan(ctx, full, win)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		evidence = append(evidence, ev...)
	}
	return evidence, errs
}
