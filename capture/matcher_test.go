package capture

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func liveCapture(streamer string, at time.Time) Capture {
	return Capture{ID: "c-" + at.Format("150405"), StreamerID: streamer, SourceType: SourceLive, RecordedAt: at}
}

func TestMatchWindowBoundaries(t *testing.T) {
	vod := VOD{ID: "v1", StreamerID: "foo", StartedAt: t0, DurationSeconds: 3600}
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"at start", t0, true},
		{"inside", t0.Add(130 * time.Second), true},
		{"at end", t0.Add(3600 * time.Second), true},
		{"one second past end", t0.Add(3601 * time.Second), false},
		{"one second before start", t0.Add(-time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchWindow(liveCapture("foo", tt.at), vod); got != tt.want {
				t.Errorf("MatchWindow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchRejectsOtherStreamer(t *testing.T) {
	c := liveCapture("foo", t0.Add(10*time.Second))
	vod := VOD{ID: "v1", StreamerID: "bar", StartedAt: t0, DurationSeconds: 3600}
	if Match(c, vod) {
		t.Fatal("capture for foo matched bar's vod")
	}
	c.BroadcastID = "abc"
	vod.StreamID = "abc"
	if MatchSession(c, vod) {
		t.Fatal("session match ignored streamer id")
	}
}

func TestVODSourcedNeverMatches(t *testing.T) {
	c := Capture{StreamerID: "foo", SourceType: SourceVOD, RecordedAt: t0.Add(time.Minute), BroadcastID: "abc"}
	vod := VOD{ID: "v1", StreamerID: "foo", StreamID: "abc", StartedAt: t0, DurationSeconds: 3600}
	if MatchSession(c, vod) || MatchWindow(c, vod) || Match(c, vod) {
		t.Fatal("vod-sourced capture matched")
	}
}

func TestMatchSessionExactEquality(t *testing.T) {
	vod := VOD{ID: "v1", StreamerID: "foo", StreamID: "abc123", StartedAt: t0, DurationSeconds: 60}
	tests := []struct {
		broadcast string
		want      bool
	}{
		{"abc123", true},
		{"ABC123", false},
		{"abc12", false},
		{"abc1234", false},
		{" abc123", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.broadcast, func(t *testing.T) {
			// far outside the window so only the session id can decide
			c := liveCapture("foo", t0.Add(48*time.Hour))
			c.BroadcastID = tt.broadcast
			if got := MatchSession(c, vod); got != tt.want {
				t.Errorf("MatchSession(%q) = %v, want %v", tt.broadcast, got, tt.want)
			}
		})
	}
}

func TestMatchPreciseTakesPriority(t *testing.T) {
	vod := VOD{ID: "v1", StreamerID: "foo", StreamID: "abc", StartedAt: t0, DurationSeconds: 3600}

	// inside the window but a different session: precise decides, no fallback
	c := liveCapture("foo", t0.Add(time.Minute))
	c.BroadcastID = "other"
	if Match(c, vod) {
		t.Error("mismatched session id fell back to the time window")
	}

	// no broadcast id on the capture: time window applies
	c.BroadcastID = ""
	if !Match(c, vod) {
		t.Error("capture without broadcast id did not fall back to the window")
	}
}

func TestOffset(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"concrete scenario", t0.Add(130 * time.Second), 130},
		{"floors fractional seconds", t0.Add(130*time.Second + 999*time.Millisecond), 130},
		{"at start", t0, 0},
		{"before start clamps", t0.Add(-5 * time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Offset(liveCapture("foo", tt.at), t0); got != tt.want {
				t.Errorf("Offset() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelectVODTieBreak(t *testing.T) {
	at := t0.Add(90 * time.Minute)
	long := VOD{ID: "long", StreamerID: "foo", StartedAt: t0, DurationSeconds: 4 * 3600}
	short := VOD{ID: "short", StreamerID: "foo", StartedAt: t0.Add(time.Hour), DurationSeconds: 3600}
	sameWidthLater := VOD{ID: "later", StreamerID: "foo", StartedAt: t0.Add(80 * time.Minute), DurationSeconds: 3600}

	v, ok := SelectVOD(liveCapture("foo", at), []VOD{long, short})
	if !ok || v.ID != "short" {
		t.Fatalf("SelectVOD() = %q,%v, want narrowest window", v.ID, ok)
	}

	v, ok = SelectVOD(liveCapture("foo", at), []VOD{short, sameWidthLater})
	if !ok || v.ID != "later" {
		t.Fatalf("SelectVOD() = %q,%v, want most recent start on equal width", v.ID, ok)
	}

	c := liveCapture("foo", at)
	c.BroadcastID = "s-long"
	long.StreamID = "s-long"
	v, ok = SelectVOD(c, []VOD{short, long})
	if !ok || v.ID != "long" {
		t.Fatalf("SelectVOD() = %q,%v, want precise candidate", v.ID, ok)
	}

	if _, ok := SelectVOD(liveCapture("foo", t0.Add(-time.Hour)), []VOD{long, short}); ok {
		t.Fatal("SelectVOD() matched a capture outside every window")
	}
}
