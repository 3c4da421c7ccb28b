package events

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/clip-tender/capture"
	"github.com/onnwee/clip-tender/reconcile"
	"github.com/onnwee/clip-tender/store"
)

type recordingNotifier struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingNotifier) Notify(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantErr  string
		wantFull bool
	}{
		{
			name:     "full descriptor",
			in:       `{"streamer_id":"Foo","vod_id":"v1","stream_id":"s1","started_at":"2026-05-01T10:00:00Z","duration_seconds":3600}`,
			wantFull: true,
		},
		{name: "streamer only", in: `{"streamer_id":"foo"}`},
		{name: "missing streamer", in: `{"vod_id":"v1"}`, wantErr: "streamer_id missing"},
		{name: "bad json", in: `{`, wantErr: "decode vod event"},
		{name: "negative duration", in: `{"streamer_id":"foo","duration_seconds":-1}`, wantErr: "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.in))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if m.StreamerID != "foo" {
				t.Errorf("streamer = %q, want canonical foo", m.StreamerID)
			}
			v, full := m.Descriptor()
			if full != tt.wantFull {
				t.Fatalf("Descriptor() full = %v, want %v", full, tt.wantFull)
			}
			if full && (v.StreamID != "s1" || v.DurationSeconds != 3600 || v.StreamerID != "foo") {
				t.Errorf("descriptor = %+v", v)
			}
		})
	}
}

func TestDispatcherReconcilesFullDescriptor(t *testing.T) {
	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := reconcile.NewService(store.NewMemory(), reconcile.WithClock(func() time.Time { return started.Add(time.Hour) }))
	c, err := svc.Create(context.Background(), capture.NewCapture{StreamerID: "foo", SourceType: capture.SourceLive, RecordedAt: started.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	n := &recordingNotifier{}
	d := &Dispatcher{Service: svc, Scheduler: n}

	d.Handle(context.Background(), VODAvailable{StreamerID: "foo", VODID: "v1", StartedAt: started, DurationSeconds: 600})
	got, _ := svc.Get(context.Background(), c.ID)
	if got.VODID != "v1" || *got.VODOffsetSeconds != 60 {
		t.Fatalf("capture = %+v, want v1@60", got)
	}
	if len(n.seen) != 0 {
		t.Fatalf("scheduler notified for a full descriptor: %v", n.seen)
	}

	d.Handle(context.Background(), VODAvailable{StreamerID: "bar"})
	if len(n.seen) != 1 || n.seen[0] != "bar" {
		t.Fatalf("notified = %v, want [bar]", n.seen)
	}
}

func TestKafkaRoundTrip(t *testing.T) {
	broker := os.Getenv("TEST_KAFKA_BROKER")
	if broker == "" {
		t.Skip("TEST_KAFKA_BROKER not set")
	}
	topic := "vod-available-test-" + uuid.NewString()[:8]
	n := &recordingNotifier{}
	svc := reconcile.NewService(store.NewMemory())
	consumer := NewConsumer([]string{broker}, topic, "test-"+uuid.NewString(), &Dispatcher{Service: svc, Scheduler: n})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go func() { _ = consumer.Run(ctx) }()

	pub := NewPublisher([]string{broker}, topic)
	defer func() { _ = pub.Close() }()
	for ctx.Err() == nil {
		if err := pub.Publish(ctx, VODAvailable{StreamerID: "foo"}); err != nil {
			t.Logf("publish: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
		n.mu.Lock()
		got := len(n.seen)
		n.mu.Unlock()
		if got > 0 {
			return
		}
	}
	t.Fatal("event never consumed")
}
