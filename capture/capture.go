// Package capture holds the moment-capture data model and the pure rules applied to it:
// matching a live capture to its VOD, computing the VOD offset, linking batches,
// deciding retention, and building clip creation URLs. Nothing here performs I/O.
package capture

import (
	"fmt"
	"strings"
	"time"
)

// SourceType records where a capture was taken.
type SourceType string

const (
	// SourceLive captures carry a live-relative timestamp and need reconciliation.
	SourceLive SourceType = "live"
	// SourceVOD captures already reference a finalized VOD.
	SourceVOD SourceType = "vod"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	return s == SourceLive || s == SourceVOD
}

// Capture is a user-recorded moment.
type Capture struct {
	// Identity (immutable)
	ID           string     `json:"id"`
	StreamerID   string     `json:"streamerId"`
	StreamerName string     `json:"streamerName"`
	SourceType   SourceType `json:"sourceType"`

	// Provisional position
	TimestampSeconds int       `json:"timestampSeconds"`
	BroadcastID      string    `json:"broadcastId,omitempty"`
	RecordedAt       time.Time `json:"recordedAt"`

	// Linkage, set together by reconciliation
	VODID            string `json:"vodId,omitempty"`
	VODOffsetSeconds *int   `json:"vodOffsetSeconds,omitempty"`

	// User state
	Memo        string     `json:"memo,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Version is the store's compare-and-set token. Zero means not yet stored.
	Version int64 `json:"version"`
}

// Linked reports whether the capture has both a VOD id and a VOD offset.
func (c Capture) Linked() bool {
	return c.VODID != "" && c.VODOffsetSeconds != nil
}

// Pending reports whether the capture still waits for reconciliation.
func (c Capture) Pending() bool {
	return c.SourceType == SourceLive && !c.Linked()
}

// WithLink returns a copy of c linked to vodID at offset.
func (c Capture) WithLink(vodID string, offset int) Capture {
	off := offset
	c.VODID = vodID
	c.VODOffsetSeconds = &off
	return c
}

// Clone returns a deep copy so callers never share pointer fields.
func (c Capture) Clone() Capture {
	if c.VODOffsetSeconds != nil {
		off := *c.VODOffsetSeconds
		c.VODOffsetSeconds = &off
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// NewCapture is the input accepted from the acquisition path.
type NewCapture struct {
	StreamerID       string     `json:"streamerId"`
	StreamerName     string     `json:"streamerName"`
	SourceType       SourceType `json:"sourceType"`
	TimestampSeconds int        `json:"timestampSeconds"`
	BroadcastID      string     `json:"broadcastId,omitempty"`
	VODID            string     `json:"vodId,omitempty"`
	Memo             string     `json:"memo,omitempty"`
	RecordedAt       time.Time  `json:"recordedAt,omitempty"`
}

// Build validates n and returns the capture to store under id.
// now is used when RecordedAt is unset.
func (n NewCapture) Build(id string, now time.Time) (Capture, error) {
	streamerID := CanonicalStreamer(n.StreamerID)
	name := strings.TrimSpace(n.StreamerName)
	if streamerID == "" {
		streamerID = CanonicalStreamer(name)
	}
	if streamerID == "" {
		return Capture{}, fmt.Errorf("%w: streamer id required", ErrInvalid)
	}
	if name == "" {
		name = streamerID
	}
	if !n.SourceType.Valid() {
		return Capture{}, fmt.Errorf("%w: unknown source type %q", ErrInvalid, n.SourceType)
	}
	if n.TimestampSeconds < 0 {
		return Capture{}, fmt.Errorf("%w: timestamp must be >= 0", ErrInvalid)
	}
	recordedAt := n.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = now
	}
	c := Capture{
		ID:               id,
		StreamerID:       streamerID,
		StreamerName:     name,
		SourceType:       n.SourceType,
		TimestampSeconds: n.TimestampSeconds,
		BroadcastID:      strings.TrimSpace(n.BroadcastID),
		RecordedAt:       recordedAt.UTC(),
		Memo:             n.Memo,
	}
	if n.SourceType == SourceVOD {
		if n.VODID == "" {
			return Capture{}, fmt.Errorf("%w: vod captures require a vod id", ErrInvalid)
		}
		c = c.WithLink(n.VODID, n.TimestampSeconds)
	}
	return c, nil
}

// CanonicalStreamer lowercases and trims a login for comparison.
func CanonicalStreamer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// VOD describes a finalized recording. StreamID is the broadcast session id and is empty
// when the provider could not supply it.
type VOD struct {
	ID              string    `json:"vodId"`
	StreamerID      string    `json:"streamerId"`
	StreamID        string    `json:"streamId,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds int       `json:"durationSeconds"`
}

// HasSession reports whether precise session-id matching is possible for v.
func (v VOD) HasSession() bool {
	return v.StreamID != ""
}

// EndsAt returns the inclusive end of the VOD window.
func (v VOD) EndsAt() time.Time {
	return v.StartedAt.Add(time.Duration(v.DurationSeconds) * time.Second)
}
