package capture

// Link pairs a capture with the offset it receives when linked to a VOD.
type Link struct {
	Capture Capture
	VODID   string
	Offset  int
}

// LinkAll returns a Link for every capture in cs that matches v, preserving input order.
// Non-matching captures are skipped. The result depends only on the arguments.
func LinkAll(cs []Capture, v VOD) []Link {
	out := make([]Link, 0, len(cs))
	for _, c := range cs {
		if !Match(c, v) {
			continue
		}
		out = append(out, Link{Capture: c, VODID: v.ID, Offset: Offset(c, v.StartedAt)})
	}
	return out
}

// LinkCatalog links each capture against the best of several candidate VODs (see SelectVOD).
func LinkCatalog(cs []Capture, vods []VOD) []Link {
	out := make([]Link, 0, len(cs))
	for _, c := range cs {
		v, ok := SelectVOD(c, vods)
		if !ok {
			continue
		}
		out = append(out, Link{Capture: c, VODID: v.ID, Offset: Offset(c, v.StartedAt)})
	}
	return out
}
