package capture

import (
	"net/url"
	"strconv"
)

// ClipCreateBaseURL is the Twitch clip creation page.
const ClipCreateBaseURL = "https://clips.twitch.tv/create"

// ClipParams are the inputs of BuildClipURL. VODID takes precedence over BroadcastID.
type ClipParams struct {
	BroadcasterLogin string
	OffsetSeconds    int
	VODID            string
	BroadcastID      string
}

// BuildClipURL returns the clip creation URL with every value query-escaped.
func BuildClipURL(p ClipParams) string {
	q := url.Values{}
	q.Set("broadcasterLogin", p.BroadcasterLogin)
	q.Set("offsetSeconds", strconv.Itoa(p.OffsetSeconds))
	switch {
	case p.VODID != "":
		q.Set("vodID", p.VODID)
	case p.BroadcastID != "":
		q.Set("broadcastId", p.BroadcastID)
	}
	return ClipCreateBaseURL + "?" + q.Encode()
}

// ClipURL builds the clip URL for c: linked captures use the VOD offset, pending live
// captures fall back to the live timestamp and broadcast id.
func ClipURL(c Capture) string {
	p := ClipParams{BroadcasterLogin: c.StreamerID, OffsetSeconds: c.TimestampSeconds, BroadcastID: c.BroadcastID}
	if c.Linked() {
		p.VODID = c.VODID
		p.OffsetSeconds = *c.VODOffsetSeconds
	}
	return BuildClipURL(p)
}
