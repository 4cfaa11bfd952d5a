package web

import (
	"sync"

	"gpsview/internal/gps"
)

// StreamEvent is one message on the WebSocket feed. Exactly one of the
// payload fields is set, discriminated by Type ("nmea" or "snapshot").
type StreamEvent struct {
	Type     string         `json:"type"`
	Line     *SentenceEntry `json:"line,omitempty"`
	Snapshot *gps.Snapshot  `json:"snapshot,omitempty"`
}

// Broadcaster fans out stream events to connected WebSocket clients. It
// keeps the most recent snapshot so new subscribers draw the sky plot
// immediately instead of waiting for the next pump tick. Slow
// subscribers lose events rather than stalling the pipeline.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan StreamEvent
	nextID   int
	last     StreamEvent
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan StreamEvent)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan StreamEvent) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan StreamEvent, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// PublishLine emits a raw NMEA line event.
func (b *Broadcaster) PublishLine(e SentenceEntry) {
	if b == nil {
		return
	}
	b.publish(StreamEvent{Type: "nmea", Line: &e}, false)
}

// PublishSnapshot emits a decoded-state event and remembers it for
// replay to new subscribers.
func (b *Broadcaster) PublishSnapshot(snap gps.Snapshot) {
	if b == nil {
		return
	}
	b.publish(StreamEvent{Type: "snapshot", Snapshot: &snap}, true)
}

func (b *Broadcaster) publish(ev StreamEvent, remember bool) {
	b.mu.RLock()
	subs := make([]chan StreamEvent, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
	if remember {
		b.mu.Lock()
		b.last = ev
		b.haveLast = true
		b.mu.Unlock()
	}
}
