package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe(0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.Publish("fileID:f1,status:complete")

	select {
	case msg := <-ch:
		if got := string(msg); got != "id: 1\ndata: fileID:f1,status:complete\n\n" {
			t.Errorf("frame = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestFrameMultiline(t *testing.T) {
	if got := string(frame(7, "a\nb")); got != "id: 7\ndata: a\ndata: b\n\n" {
		t.Errorf("frame = %q", got)
	}
}

func TestKeepalive(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	select {
	case msg := <-ch:
		if !strings.HasPrefix(string(msg), ":") {
			t.Errorf("keepalive = %q, want comment line", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no keepalive")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/subscribe/devices", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish("fileID:x,status:complete")
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if body := w.Body.String(); !strings.Contains(body, "data: fileID:x,status:complete") {
		t.Errorf("handler output missing notice: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	// Overflow the client buffer; publishing must not block.
	for range 64 + DefaultHistory + 10 {
		b.Publish("fileID:x")
	}
}

func TestReplayAfterLastEventID(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()

	for _, id := range []string{"a", "b", "c"} {
		b.Publish("fileID:" + id)
	}

	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	var got []string
	for range 2 {
		select {
		case msg := <-ch:
			got = append(got, string(msg))
		case <-time.After(time.Second):
			t.Fatalf("replay incomplete: %q", got)
		}
	}
	want := []string{"id: 2\ndata: fileID:b\n\n", "id: 3\ndata: fileID:c\n\n"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("replay = %q, want %q", got, want)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	b := NewBroker(time.Minute)
	b.history = 2
	defer b.Close()

	for _, id := range []string{"a", "b", "c", "d"} {
		b.Publish("fileID:" + id)
	}

	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	first := <-ch
	if string(first) != "id: 3\ndata: fileID:c\n\n" {
		t.Errorf("oldest replayed = %q, want id 3", first)
	}
}

func TestSSEHandlerReplaysFromHeader(t *testing.T) {
	b := NewBroker(time.Minute)
	defer b.Close()
	b.Publish("fileID:old")
	b.Publish("fileID:new")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/subscribe/devices", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, "fileID:old") || !strings.Contains(body, "id: 2\ndata: fileID:new") {
		t.Errorf("body = %q", body)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(time.Minute)
	ch := b.Subscribe(0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish("fileID:x")
}
