// Package alertbus fans out forensic pipeline events to WebSocket
// subscribers. It is the teacher's pkg/api Hub/Client register/unregister/
// broadcast pattern, generalized from one shared send channel to one
// bounded queue per message kind so a burst of high-volume trade ticks
// can never starve out a rarer alert.
package alertbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Kind identifies the seven message types a subscriber can receive.
type Kind string

const (
	KindNewTrade        Kind = "new_trade"
	KindNewAlert        Kind = "new_alert"
	KindStats           Kind = "stats"
	KindAnalysisStats   Kind = "analysis_stats"
	KindSuspiciousTrade Kind = "suspicious_trade"
	KindConnected       Kind = "connected"
	KindPong            Kind = "pong"
)

var allKinds = []Kind{
	KindNewTrade, KindNewAlert, KindStats, KindAnalysisStats,
	KindSuspiciousTrade, KindConnected, KindPong,
}

const queueCapacityPerKind = 64

// Message is one delivered event. Resync is set when the subscriber's
// queue for Kind overflowed since the last delivered message of that kind
// — the client missed Dropped messages and should re-fetch authoritative
// state via REST rather than trust its incremental view.
type Message struct {
	Kind    Kind
	Data    any
	Resync  bool
	Dropped int64
}

// Bus owns the subscriber registry and the broadcast fan-out. Safe for
// concurrent use.
type Bus struct {
	log *zap.SugaredLogger

	mu  sync.RWMutex
	subs map[string]*Subscriber
}

func New(log *zap.SugaredLogger) *Bus {
	return &Bus{log: log, subs: make(map[string]*Subscriber)}
}

// Subscriber is a single registered client: one bounded queue per Kind,
// fanned into a single ordered Out channel. Out is intentionally
// unbuffered — the only buffering a slow subscriber gets is the 64-slot
// per-kind queue; adding capacity here would let a second stage absorb
// overflow before the drop counter ever fires.
type Subscriber struct {
	id  string
	bus *Bus

	queues map[Kind]chan Message
	dropped map[Kind]*int64

	Out chan Message

	wg sync.WaitGroup
}

// Register creates a subscriber and starts its per-kind forwarder
// goroutines. Callers must call Unregister when the connection closes.
func (b *Bus) Register(id string) *Subscriber {
	s := &Subscriber{
		id:      id,
		bus:     b,
		queues:  make(map[Kind]chan Message, len(allKinds)),
		dropped: make(map[Kind]*int64, len(allKinds)),
		Out:     make(chan Message),
	}
	for _, k := range allKinds {
		s.queues[k] = make(chan Message, queueCapacityPerKind)
		var counter int64
		s.dropped[k] = &counter
	}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	for _, k := range allKinds {
		s.wg.Add(1)
		go s.forward(k)
	}

	if b.log != nil {
		b.log.Infow("subscriber registered", "id", id, "total", b.count())
	}
	return s
}

// forward drains one kind's bounded queue into Out, attaching a resync
// marker to the first message delivered after an overflow.
func (s *Subscriber) forward(k Kind) {
	defer s.wg.Done()
	for msg := range s.queues[k] {
		if n := atomic.SwapInt64(s.dropped[k], 0); n > 0 {
			msg.Resync = true
			msg.Dropped = n
		}
		s.Out <- msg
	}
}

// Unregister stops the subscriber's forwarders and closes Out. Safe to
// call once per subscriber.
func (b *Bus) Unregister(s *Subscriber) {
	b.mu.Lock()
	if _, ok := b.subs[s.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, s.id)
	b.mu.Unlock()

	for _, k := range allKinds {
		close(s.queues[k])
	}
	s.wg.Wait()
	close(s.Out)

	if b.log != nil {
		b.log.Infow("subscriber unregistered", "id", s.id, "total", b.count())
	}
}

func (b *Bus) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish fans data out to every subscriber's queue for kind. A
// subscriber whose queue is full for this kind has its drop counter
// incremented instead of blocking the publisher — a slow reader never
// stalls ingestion.
func (b *Bus) Publish(kind string, data any) {
	k := Kind(kind)
	msg := Message{Kind: k, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		q, ok := s.queues[k]
		if !ok {
			continue
		}
		select {
		case q <- msg:
		default:
			atomic.AddInt64(s.dropped[k], 1)
		}
	}
}
