package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/rollcall/internal/domain"
)

const expiryIndex = "sessions:expiry"

func sessionKey(id string) string   { return "session:" + id }
func attendeesKey(id string) string { return "attendees:" + id }

// Cached fronts the session half of Store with Redis: session documents are
// cached until they expire, attendee membership lives in a set per session,
// and a ZSET scored by expiry lets the janitor evict what it deactivates.
// Records and violations pass straight through to Postgres.
type Cached struct {
	*Store
	rdb *r.Client
	ttl time.Duration
	log *zap.Logger
}

func NewCached(store *Store, rdb *r.Client, ttl time.Duration, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{Store: store, rdb: rdb, ttl: ttl, log: log}
}

func (c *Cached) CreateSession(ctx context.Context, sess *domain.Session) error {
	if err := c.Store.CreateSession(ctx, sess); err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	c.cache(ctx, pipe, sess, true)
	pipe.ZAdd(ctx, expiryIndex, r.Z{Score: float64(sess.ExpiresAt.Unix()), Member: sess.ID})
	_, err := pipe.Exec(ctx)
	return c.cacheErr("cache session", err)
}

func (c *Cached) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := c.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == nil {
		var sess domain.Session
		if jerr := json.Unmarshal(raw, &sess); jerr == nil {
			if n, cerr := c.rdb.SCard(ctx, attendeesKey(id)).Result(); cerr == nil && int(n) > sess.AttendeeCount {
				sess.AttendeeCount = int(n)
			}
			return &sess, nil
		}
	}

	sess, err := c.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	// A concurrent writer may have cached a newer document since our read.
	pipe := c.rdb.Pipeline()
	c.cache(ctx, pipe, sess, false)
	_, err = pipe.Exec(ctx)
	_ = c.cacheErr("cache session", err)
	return sess, nil
}

// cache stores the session document. Writers overwrite; read-through fills
// only an empty slot.
func (c *Cached) cache(ctx context.Context, pipe r.Pipeliner, sess *domain.Session, overwrite bool) {
	ttl := c.ttl
	if left := time.Until(sess.ExpiresAt); sess.IsActive && left > 0 && left < ttl {
		// Keep a little past expiry so the lazy check still sees it and deactivates.
		ttl = left + time.Minute
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if overwrite {
		pipe.Set(ctx, sessionKey(sess.ID), b, ttl)
		return
	}
	pipe.SetNX(ctx, sessionKey(sess.ID), b, ttl)
}

func (c *Cached) DeactivateSession(ctx context.Context, id string) error {
	if err := c.Store.DeactivateSession(ctx, id); err != nil {
		return err
	}
	return c.evict(ctx, id)
}

func (c *Cached) AttachTargets(ctx context.Context, id, spreadsheet, violationLog string) error {
	if err := c.Store.AttachTargets(ctx, id, spreadsheet, violationLog); err != nil {
		return err
	}
	sess, err := c.Store.GetSession(ctx, id)
	if err != nil {
		// Fall back to eviction.
		return c.cacheErr("evict session", c.rdb.Del(ctx, sessionKey(id)).Err())
	}
	pipe := c.rdb.Pipeline()
	c.cache(ctx, pipe, sess, true)
	_, err = pipe.Exec(ctx)
	return c.cacheErr("cache session", err)
}

func (c *Cached) AddAttendee(ctx context.Context, sessionID, email string) error {
	if err := c.Store.AddAttendee(ctx, sessionID, email); err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, attendeesKey(sessionID), email)
	pipe.Expire(ctx, attendeesKey(sessionID), c.ttl+24*time.Hour)
	_, err := pipe.Exec(ctx)
	return c.cacheErr("add attendee", err)
}

// HasAttendee trusts a positive set hit; a miss falls back to Postgres in
// case the set was evicted.
func (c *Cached) HasAttendee(ctx context.Context, sessionID, email string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, attendeesKey(sessionID), email).Result()
	if err == nil && ok {
		return true, nil
	}
	return c.Store.HasAttendee(ctx, sessionID, email)
}

// ExpireDue runs the Postgres sweep, then evicts the cache for every session
// that is now past its expiry according to the ZSET.
func (c *Cached) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := c.Store.ExpireDue(ctx, now)
	if err != nil {
		return nil, err
	}
	due, err := c.rdb.ZRangeByScore(ctx, expiryIndex, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Offset: 0, Count: 500,
	}).Result()
	if err != nil {
		return ids, c.cacheErr("scan expiry index", err)
	}
	if len(due) == 0 {
		return ids, nil
	}
	pipe := c.rdb.TxPipeline()
	for _, id := range due {
		pipe.Del(ctx, sessionKey(id))
		pipe.ZRem(ctx, expiryIndex, id)
	}
	_, err = pipe.Exec(ctx)
	return ids, c.cacheErr("evict expired", err)
}

func (c *Cached) evict(ctx context.Context, id string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.ZRem(ctx, expiryIndex, id)
	_, err := pipe.Exec(ctx)
	return c.cacheErr("evict session", err)
}

// Ping checks both Postgres and Redis.
func (c *Cached) Ping(ctx context.Context) error {
	if err := c.Store.Ping(ctx); err != nil {
		return err
	}
	return errors.Wrap(c.rdb.Ping(ctx).Err(), "redis ping")
}

// cacheErr logs and swallows a Redis failure: Postgres stays authoritative and
// stale entries age out with their TTL.
func (c *Cached) cacheErr(op string, err error) error {
	if err != nil {
		c.log.Warn("redis "+op, zap.Error(err))
	}
	return nil
}
