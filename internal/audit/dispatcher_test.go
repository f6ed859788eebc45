package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type gateSink struct {
	gate    chan struct{}
	emitted atomic.Int64
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
	s.emitted.Add(1)
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: EventLogin})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversAndStamps(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: EventLogin, Username: "bob", Success: true})

	select {
	case ev := <-sink.Events():
		if ev.EventType != EventLogin || ev.Username != "bob" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: EventLogout})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and a full buffer")
	}

	close(sink.gate)
	d.Close()
	if got := sink.emitted.Load() + int64(d.Dropped()); got != 10 {
		t.Fatalf("emitted+dropped = %d, want 10", got)
	}
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Emit(ctx, Event{EventType: EventLogin})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking Emit ignored context cancellation")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: EventSSO, Username: "bob", Success: true})

	var got Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EventType != EventSSO || got.Username != "bob" || !got.Success {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: zerolog.New(&buf)}
	sink.Emit(context.Background(), Event{EventType: EventLogin, Username: "bob", Error: "bad password"})

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"user":"bob"`) {
		t.Fatalf("unexpected log line %s", out)
	}
}

func TestDispatcherFiltersTypes(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, Types: []string{EventGuardDenied}}, sink)

	d.Emit(context.Background(), Event{EventType: EventLogin, Username: "bob"})
	d.Emit(context.Background(), Event{EventType: EventGuardDenied, Metadata: map[string]string{"path": "/app"}})
	d.Close()

	if got := d.Delivered(); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	ev := <-sink.Events()
	if ev.EventType != EventGuardDenied {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDispatcherEmitAfterCloseIsIgnored(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Close()
	d.Close()

	d.Emit(context.Background(), Event{EventType: EventLogout})
	if d.Delivered() != 0 || d.Dropped() != 0 {
		t.Fatalf("closed dispatcher counted an event: delivered=%d dropped=%d", d.Delivered(), d.Dropped())
	}
}
