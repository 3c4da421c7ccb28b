package twitchapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/onnwee/clip-tender/capture"
	"github.com/onnwee/clip-tender/telemetry"
)

// VODProvider resolves a streamer login to its recent archived VODs through Helix.
type VODProvider struct {
	Helix *HelixClient
	// Cache holds recent listings; nil disables caching.
	Cache VODCache
	// MaxVODs bounds how many archives ListVODs considers (default 20).
	MaxVODs int

	users *cache.Cache
}

// NewVODProvider returns a provider over hc.
func NewVODProvider(hc *HelixClient, c VODCache) *VODProvider {
	return &VODProvider{Helix: hc, Cache: c, MaxVODs: 20, users: cache.New(24*time.Hour, time.Hour)}
}

// LookupVOD returns the newest archived VOD of streamerID or capture.ErrNotAvailable.
func (p *VODProvider) LookupVOD(ctx context.Context, streamerID string) (capture.VOD, error) {
	vods, err := p.ListVODs(ctx, streamerID)
	if err != nil {
		return capture.VOD{}, err
	}
	if len(vods) == 0 {
		return capture.VOD{}, capture.ErrNotAvailable
	}
	return vods[0], nil
}

// ListVODs returns recent archived VODs of streamerID, newest first.
func (p *VODProvider) ListVODs(ctx context.Context, streamerID string) ([]capture.VOD, error) {
	streamerID = capture.CanonicalStreamer(streamerID)
	if p.Cache != nil {
		if vods, ok := p.Cache.GetVODs(streamerID); ok {
			telemetry.IncVec(telemetry.VODLookups, "cache")
			return vods, nil
		}
	}
	userID, err := p.userID(ctx, streamerID)
	if err != nil {
		telemetry.IncVec(telemetry.VODLookups, "error")
		return nil, asTransient("resolve user "+streamerID, err)
	}

	limit := p.MaxVODs
	if limit <= 0 {
		limit = 20
	}
	out := make([]capture.VOD, 0, limit)
	after := ""
	for len(out) < limit {
		page, cursor, err := p.Helix.ListVideos(ctx, userID, after, limit)
		if err != nil {
			telemetry.IncVec(telemetry.VODLookups, "error")
			return nil, asTransient("list videos "+streamerID, err)
		}
		for _, v := range page {
			vod, ok := toVOD(streamerID, v)
			if !ok {
				slog.Debug("skipping video with unparseable created_at", slog.String("vod_id", v.ID))
				continue
			}
			out = append(out, vod)
			if len(out) >= limit {
				break
			}
		}
		if cursor == "" || len(page) == 0 {
			break
		}
		after = cursor
	}
	if len(out) == 0 {
		telemetry.IncVec(telemetry.VODLookups, "miss")
	} else {
		telemetry.IncVec(telemetry.VODLookups, "helix")
	}
	if p.Cache != nil && len(out) > 0 {
		p.Cache.SetVODs(streamerID, out)
	}
	return out, nil
}

func (p *VODProvider) userID(ctx context.Context, login string) (string, error) {
	if p.users != nil {
		if v, ok := p.users.Get(login); ok {
			return v.(string), nil
		}
	}
	id, err := p.Helix.GetUserID(ctx, login)
	if err != nil {
		return "", err
	}
	if p.users != nil {
		p.users.Set(login, id, cache.DefaultExpiration)
	}
	return id, nil
}

func toVOD(streamerID string, v VideoMeta) (capture.VOD, bool) {
	started, err := time.Parse(time.RFC3339, v.CreatedAt)
	if err != nil {
		return capture.VOD{}, false
	}
	return capture.VOD{
		ID:              v.ID,
		StreamerID:      streamerID,
		StreamID:        v.StreamID,
		StartedAt:       started.UTC(),
		DurationSeconds: parseTwitchDuration(v.Duration),
	}, true
}

// parseTwitchDuration parses Twitch duration format like "3h15m42s".
func parseTwitchDuration(s string) int {
	var total, n int
	seen := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
			seen = true
			continue
		}
		if !seen {
			continue
		}
		switch r {
		case 'h':
			total += n * 3600
		case 'm':
			total += n * 60
		case 's':
			total += n
		}
		n, seen = 0, false
	}
	return total
}
