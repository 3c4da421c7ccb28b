package twitchapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/patrickmn/go-cache"

	"github.com/onnwee/clip-tender/capture"
)

// VODCache stores recent VOD listings per streamer.
type VODCache interface {
	GetVODs(streamerID string) ([]capture.VOD, bool)
	SetVODs(streamerID string, vods []capture.VOD)
}

// LocalCache is an in-process VODCache.
type LocalCache struct {
	c *cache.Cache
}

// NewLocalCache returns a cache whose entries live for ttl.
func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{c: cache.New(ttl, 2*ttl)}
}

func (l *LocalCache) GetVODs(streamerID string) ([]capture.VOD, bool) {
	v, ok := l.c.Get(streamerID)
	if !ok {
		return nil, false
	}
	vods, ok := v.([]capture.VOD)
	return vods, ok
}

func (l *LocalCache) SetVODs(streamerID string, vods []capture.VOD) {
	l.c.Set(streamerID, vods, cache.DefaultExpiration)
}

// Delete drops one streamer's entry.
func (l *LocalCache) Delete(streamerID string) { l.c.Delete(streamerID) }

// MemcacheCache shares VOD listings between replicas through memcached.
type MemcacheCache struct {
	client *memcache.Client
	ttl    time.Duration
	prefix string
}

// NewMemcacheCache returns a cache over the given memcached servers.
func NewMemcacheCache(ttl time.Duration, servers ...string) *MemcacheCache {
	return &MemcacheCache{client: memcache.New(servers...), ttl: ttl, prefix: "clip-tender:vods:"}
}

func (m *MemcacheCache) GetVODs(streamerID string) ([]capture.VOD, bool) {
	item, err := m.client.Get(m.prefix + streamerID)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.Debug("memcache get failed", slog.Any("err", err))
		}
		return nil, false
	}
	var vods []capture.VOD
	if err := json.Unmarshal(item.Value, &vods); err != nil {
		return nil, false
	}
	return vods, true
}

func (m *MemcacheCache) SetVODs(streamerID string, vods []capture.VOD) {
	b, err := json.Marshal(vods)
	if err != nil {
		return
	}
	if err := m.client.Set(&memcache.Item{Key: m.prefix + streamerID, Value: b, Expiration: memcacheExpiration(m.ttl)}); err != nil {
		slog.Debug("memcache set failed", slog.Any("err", err))
	}
}

// memcacheExpiration converts ttl to whole seconds. memcached reads 0 as "never expire", so
// sub-second TTLs round up to one second.
func memcacheExpiration(ttl time.Duration) int32 {
	return int32(max(1, int64(ttl/time.Second)))
}

// Ping checks the memcached connection.
func (m *MemcacheCache) Ping() error { return m.client.Ping() }

// TieredCache consults Local first and falls back to Shared, back-filling Local on a hit.
type TieredCache struct {
	Local  VODCache
	Shared VODCache
}

func (t TieredCache) GetVODs(streamerID string) ([]capture.VOD, bool) {
	if vods, ok := t.Local.GetVODs(streamerID); ok {
		return vods, true
	}
	if t.Shared == nil {
		return nil, false
	}
	vods, ok := t.Shared.GetVODs(streamerID)
	if ok {
		t.Local.SetVODs(streamerID, vods)
	}
	return vods, ok
}

func (t TieredCache) SetVODs(streamerID string, vods []capture.VOD) {
	t.Local.SetVODs(streamerID, vods)
	if t.Shared != nil {
		t.Shared.SetVODs(streamerID, vods)
	}
}
