// Package sse streams import progress and media directory changes to
// browser clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event is one named message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Import phases accepted by PublishImportEvent.
const (
	PhaseStarted  = "started"
	PhaseRecord   = "record"
	PhaseFinished = "finished"
)

// clientBuffer is the number of undelivered messages a client may lag behind.
const clientBuffer = 64

type importEventReq struct {
	phase string
	data  any
}

// runProgress counts the records of the current run and rate-limits the
// import.progress events derived from them.
type runProgress struct {
	every     time.Duration
	processed int
	last      time.Time
}

func (p *runProgress) reset() {
	p.processed = 0
	p.last = time.Time{}
}

// record counts one record and reports whether a progress event is due.
func (p *runProgress) record(now time.Time) bool {
	p.processed++
	if now.Sub(p.last) < p.every {
		return false
	}
	p.last = now
	return true
}

func (p *runProgress) event() Event {
	return Event{Type: "import.progress", Data: map[string]int{"processed": p.processed}}
}

// Broker fans events out to subscribed clients.
//
// The client set and run progress belong to the run loop goroutine; the
// exported methods only talk to it over channels.
type Broker struct {
	progressMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	importEventCh chan importEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that emits at most one import.progress event per
// progressThrottle while records complete. Zero means one second.
func NewBroker(progressThrottle time.Duration) *Broker {
	if progressThrottle <= 0 {
		progressThrottle = time.Second
	}

	b := &Broker{
		progressMin:   progressThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		importEventCh: make(chan importEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// encode renders an event in the text/event-stream wire format.
func encode(event Event) ([]byte, bool) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, false
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), true
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	progress := &runProgress{every: b.progressMin}

	broadcast := func(events ...Event) {
		for _, event := range events {
			raw, ok := encode(event)
			if !ok {
				continue
			}
			for ch := range clients {
				select {
				case ch <- raw:
				default:
					// slow client, drop
				}
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.importEventCh:
			switch req.phase {
			case PhaseStarted:
				progress.reset()
				broadcast(Event{Type: "import.started", Data: req.data})
			case PhaseRecord:
				broadcast(Event{Type: "record.completed", Data: req.data})
				if progress.record(time.Now()) {
					broadcast(progress.event())
				}
			case PhaseFinished:
				broadcast(progress.event(), Event{Type: "import.finished", Data: req.data})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// send hands v to the run loop unless the broker has stopped.
func send[T any](b *Broker, ch chan T, v T) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case ch <- v:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the run loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel is already closed when
// the broker has stopped.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if !send(b, b.subscribeCh, ch) {
		close(ch)
	}
	return ch
}

// Unsubscribe drops a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	send(b, b.unsubscribeCh, ch)
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !send(b, b.countReqCh, resp) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts an arbitrary event.
func (b *Broker) Publish(event Event) {
	send(b, b.publishCh, event)
}

// PublishImportEvent reports an import phase. Record events also emit a
// throttled import.progress event carrying the processed count, and the
// finished event is preceded by a final one.
func (b *Broker) PublishImportEvent(phase string, data any) {
	send(b, b.importEventCh, importEventReq{phase: phase, data: data})
}

// PublishMediaEvent reports a media directory change as media.<kind>.
func (b *Broker) PublishMediaEvent(kind, path string) {
	b.Publish(Event{Type: "media." + kind, Data: map[string]string{"path": path}})
}

// ServeHTTP streams events to one client until it disconnects (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
