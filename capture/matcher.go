package capture

import "time"

// MatchSession reports whether c belongs to v by broadcast session id.
// It is an exact comparison with no time heuristic.
func MatchSession(c Capture, v VOD) bool {
	if c.SourceType != SourceLive {
		return false
	}
	if c.BroadcastID == "" || !v.HasSession() {
		return false
	}
	if c.StreamerID != v.StreamerID {
		return false
	}
	return c.BroadcastID == v.StreamID
}

// MatchWindow reports whether c was recorded inside v's window, both ends inclusive.
func MatchWindow(c Capture, v VOD) bool {
	if c.SourceType != SourceLive {
		return false
	}
	if c.StreamerID != v.StreamerID {
		return false
	}
	return !c.RecordedAt.Before(v.StartedAt) && !c.RecordedAt.After(v.EndsAt())
}

// Match applies the strategy selected by the pair: when both the capture and the VOD carry a
// session id the precise match alone decides, otherwise the time window is used.
func Match(c Capture, v VOD) bool {
	if c.BroadcastID != "" && v.HasSession() {
		return MatchSession(c, v)
	}
	return MatchWindow(c, v)
}

// Offset returns the whole seconds between the VOD start and the capture, clamped at zero.
func Offset(c Capture, vodStartedAt time.Time) int {
	d := c.RecordedAt.Sub(vodStartedAt)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// SelectVOD picks the VOD c should link to among candidates. A precise match wins; otherwise
// the narrowest window containing RecordedAt, then the latest start, then the smallest id.
func SelectVOD(c Capture, candidates []VOD) (VOD, bool) {
	if c.BroadcastID != "" {
		for _, v := range candidates {
			if MatchSession(c, v) {
				return v, true
			}
		}
	}
	var best VOD
	found := false
	for _, v := range candidates {
		if !Match(c, v) {
			continue
		}
		if !found || narrower(v, best) {
			best = v
			found = true
		}
	}
	return best, found
}

func narrower(a, b VOD) bool {
	if a.DurationSeconds != b.DurationSeconds {
		return a.DurationSeconds < b.DurationSeconds
	}
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return a.ID < b.ID
}
