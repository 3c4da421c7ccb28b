package capture

import (
	"errors"
	"net/url"
	"testing"
)

func TestNewCaptureBuild(t *testing.T) {
	now := t0
	tests := []struct {
		name    string
		in      NewCapture
		wantErr bool
		check   func(t *testing.T, c Capture)
	}{
		{
			name: "live lowercases streamer",
			in:   NewCapture{StreamerID: " FooBar ", StreamerName: "FooBar", SourceType: SourceLive, TimestampSeconds: 42, BroadcastID: "b1"},
			check: func(t *testing.T, c Capture) {
				if c.StreamerID != "foobar" || c.StreamerName != "FooBar" {
					t.Errorf("identity = %q/%q", c.StreamerID, c.StreamerName)
				}
				if !c.RecordedAt.Equal(now) {
					t.Errorf("RecordedAt = %v, want now", c.RecordedAt)
				}
				if !c.Pending() {
					t.Error("live capture should be pending")
				}
			},
		},
		{
			name: "streamer id derived from name",
			in:   NewCapture{StreamerName: "Shroud", SourceType: SourceLive},
			check: func(t *testing.T, c Capture) {
				if c.StreamerID != "shroud" {
					t.Errorf("StreamerID = %q", c.StreamerID)
				}
			},
		},
		{
			name: "vod capture is linked immediately",
			in:   NewCapture{StreamerID: "foo", SourceType: SourceVOD, TimestampSeconds: 900, VODID: "v9"},
			check: func(t *testing.T, c Capture) {
				if !c.Linked() || c.VODID != "v9" || *c.VODOffsetSeconds != 900 {
					t.Errorf("vod capture linkage = %q/%v", c.VODID, c.VODOffsetSeconds)
				}
				if c.Pending() {
					t.Error("vod capture must not be pending")
				}
			},
		},
		{name: "vod without id", in: NewCapture{StreamerID: "foo", SourceType: SourceVOD}, wantErr: true},
		{name: "negative timestamp", in: NewCapture{StreamerID: "foo", SourceType: SourceLive, TimestampSeconds: -1}, wantErr: true},
		{name: "unknown source", in: NewCapture{StreamerID: "foo", SourceType: "clip"}, wantErr: true},
		{name: "no streamer", in: NewCapture{SourceType: SourceLive}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.in.Build("id-1", now)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("Build() error = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() unexpected error: %v", err)
			}
			if c.ID != "id-1" {
				t.Errorf("ID = %q", c.ID)
			}
			tt.check(t, c)
		})
	}
}

func TestCloneDoesNotShareOffset(t *testing.T) {
	c := liveCapture("foo", t0).WithLink("v1", 10)
	d := c.Clone()
	*d.VODOffsetSeconds = 99
	if *c.VODOffsetSeconds != 10 {
		t.Fatal("Clone() shared the offset pointer")
	}
}

func TestBuildClipURL(t *testing.T) {
	tests := []struct {
		name   string
		params ClipParams
		want   map[string]string
		absent []string
	}{
		{
			name:   "vod id preferred",
			params: ClipParams{BroadcasterLogin: "foo", OffsetSeconds: 130, VODID: "123", BroadcastID: "456"},
			want:   map[string]string{"broadcasterLogin": "foo", "offsetSeconds": "130", "vodID": "123"},
			absent: []string{"broadcastId"},
		},
		{
			name:   "broadcast id fallback",
			params: ClipParams{BroadcasterLogin: "foo", OffsetSeconds: 5, BroadcastID: "456"},
			want:   map[string]string{"broadcastId": "456"},
			absent: []string{"vodID"},
		},
		{
			name:   "values are escaped",
			params: ClipParams{BroadcasterLogin: "a b&c", OffsetSeconds: 1, VODID: "x/y?z"},
			want:   map[string]string{"broadcasterLogin": "a b&c", "vodID": "x/y?z"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := BuildClipURL(tt.params)
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatalf("parse %q: %v", raw, err)
			}
			if u.Scheme+"://"+u.Host+u.Path != ClipCreateBaseURL {
				t.Errorf("base = %s", u.Scheme+"://"+u.Host+u.Path)
			}
			q := u.Query()
			for k, v := range tt.want {
				if q.Get(k) != v {
					t.Errorf("%s = %q, want %q", k, q.Get(k), v)
				}
			}
			for _, k := range tt.absent {
				if q.Has(k) {
					t.Errorf("unexpected param %s", k)
				}
			}
		})
	}
}

func TestClipURLFromCapture(t *testing.T) {
	c := liveCapture("foo", t0)
	c.TimestampSeconds = 77
	c.BroadcastID = "b1"
	u, _ := url.Parse(ClipURL(c))
	if u.Query().Get("broadcastId") != "b1" || u.Query().Get("offsetSeconds") != "77" {
		t.Errorf("pending clip url = %s", u)
	}

	c = c.WithLink("v1", 130)
	u, _ = url.Parse(ClipURL(c))
	if u.Query().Get("vodID") != "v1" || u.Query().Get("offsetSeconds") != "130" || u.Query().Has("broadcastId") {
		t.Errorf("linked clip url = %s", u)
	}
}

func TestTransientError(t *testing.T) {
	base := errors.New("connection reset")
	err := Transient("lookup", base)
	if !IsTransient(err) || !errors.Is(err, base) {
		t.Fatalf("Transient() = %v", err)
	}
	if IsTransient(ErrNotFound) {
		t.Fatal("ErrNotFound classified as transient")
	}
	if Transient("x", nil) != nil {
		t.Fatal("Transient(nil) should be nil")
	}
}
