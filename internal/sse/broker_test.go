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
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishMediaEvent("created", "2024/05/a.png")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: media.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"2024/05/a.png"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishImportEvent_ProgressThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishImportEvent(PhaseStarted, map[string]string{"kind": "post"})
	// Only the first record event should trigger import.progress.
	b.PublishImportEvent(PhaseRecord, map[string]string{"external_id": "1"})
	b.PublishImportEvent(PhaseRecord, map[string]string{"external_id": "2"})
	b.PublishImportEvent(PhaseFinished, map[string]int{"created": 2})

	time.Sleep(50 * time.Millisecond)
	var progress []string
	recordCount := 0
	finished := false
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			switch {
			case strings.Contains(s, "import.progress"):
				progress = append(progress, s)
			case strings.Contains(s, "record.completed"):
				recordCount++
			case strings.Contains(s, "import.finished"):
				finished = true
			}
		default:
			break loop
		}
	}

	if recordCount != 2 {
		t.Errorf("record events = %d, want 2", recordCount)
	}
	if len(progress) != 2 {
		t.Fatalf("progress events = %d, want 2 (throttled + final)", len(progress))
	}
	if !strings.Contains(progress[1], `"processed":2`) {
		t.Errorf("final progress = %q", progress[1])
	}
	if !finished {
		t.Error("missing import.finished")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
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

	b.Publish(Event{Type: "import.started", Data: map[string]string{"kind": "post"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: import.started") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
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
	b.Publish(Event{Type: "import.started", Data: map[string]string{"kind": "post"}})
	b.PublishImportEvent(PhaseRecord, map[string]string{"external_id": "1"})
}

func TestRunProgressThrottle(t *testing.T) {
	p := &runProgress{every: time.Second}
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if !p.record(start) {
		t.Fatal("first record should emit progress")
	}
	if p.record(start.Add(500 * time.Millisecond)) {
		t.Fatal("record inside the interval should not emit")
	}
	if !p.record(start.Add(time.Second)) {
		t.Fatal("record after the interval should emit")
	}
	if p.processed != 3 {
		t.Fatalf("processed = %d, want 3", p.processed)
	}

	p.reset()
	if p.processed != 0 || !p.record(start) {
		t.Fatal("reset should clear count and throttle")
	}
}
