// Package sse implements the Server-Sent Events broker behind the
// reference store's device subscription endpoint.
package sse

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultHistory is how many recent notices are kept for replay.
const DefaultHistory = 256

type event struct {
	id  uint64
	raw []byte
}

type subscription struct {
	ch     chan []byte
	lastID uint64
}

// Broker manages SSE client connections and broadcasts completion notices.
// Every notice gets a sequential id; a client that reconnects with
// Last-Event-ID first receives the retained notices it missed.
//
// A single goroutine owns the client set and the history. Public methods
// talk to it through channels.
type Broker struct {
	keepalive time.Duration
	history   int

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that writes a comment line to every client each
// keepalive interval so idle proxies keep the stream open.
func NewBroker(keepalive time.Duration) *Broker {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}

	b := &Broker{
		keepalive:     keepalive,
		history:       DefaultHistory,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan string),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// frame renders one event; embedded newlines become additional data lines.
func frame(id uint64, data string) []byte {
	var sb strings.Builder
	sb.WriteString("id: ")
	sb.WriteString(strconv.FormatUint(id, 10))
	sb.WriteByte('\n')
	for line := range strings.SplitSeq(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

func (b *Broker) run() {
	defer close(b.stopped)

	var (
		seq     uint64
		backlog []event
	)
	clients := make(map[chan []byte]struct{})
	ticker := time.NewTicker(b.keepalive)
	defer ticker.Stop()

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; drop rather than stall the loop.
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = struct{}{}
			if sub.lastID == 0 {
				continue
			}
			for _, ev := range backlog {
				if ev.id > sub.lastID {
					send(sub.ch, ev.raw)
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case data := <-b.publishCh:
			seq++
			ev := event{id: seq, raw: frame(seq, data)}
			backlog = append(backlog, ev)
			if len(backlog) > b.history {
				backlog = backlog[len(backlog)-b.history:]
			}
			for ch := range clients {
				send(ch, ev.raw)
			}

		case <-ticker.C:
			for ch := range clients {
				send(ch, []byte(": ping\n\n"))
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel. It is idempotent.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. With a non-zero lastID the retained notices
// newer than lastID are queued on the channel first.
func (b *Broker) Subscribe(lastID uint64) chan []byte {
	ch := make(chan []byte, 64+b.history)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends a notice to all connected clients. It returns once the
// notice has a sequence id.
func (b *Broker) Publish(data string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- data:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /subscribe/devices).
// A malformed Last-Event-ID is ignored.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(lastID)
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
