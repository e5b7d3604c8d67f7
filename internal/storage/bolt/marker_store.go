package bolt

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// markerStore keeps dedupe markers with an expiry timestamp per key.
// Bolt has no native TTL, so expired markers are treated as absent and
// reaped by DeleteExpired.
type markerStore struct {
	db *bbolt.DB
}

func (s *markerStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketMarkers))
		if b == nil {
			return fmt.Errorf("markers bucket missing")
		}
		if existing := b.Get([]byte(key)); existing != nil {
			expiry, err := time.Parse(time.RFC3339Nano, string(existing))
			if err == nil && time.Now().Before(expiry) {
				return nil
			}
		}
		set = true
		expiry := time.Now().Add(ttl).Format(time.RFC3339Nano)
		return b.Put([]byte(key), []byte(expiry))
	})
	return set, err
}

func (s *markerStore) Exists(ctx context.Context, key string) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketMarkers))
		if b == nil {
			return nil
		}
		value := b.Get([]byte(key))
		if value == nil {
			return nil
		}
		expiry, err := time.Parse(time.RFC3339Nano, string(value))
		if err != nil {
			return nil
		}
		exists = time.Now().Before(expiry)
		return nil
	})
	return exists, err
}

func (s *markerStore) DeleteExpired(ctx context.Context) (int, error) {
	deleted := 0
	now := time.Now()
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketMarkers))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			expiry, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil || !now.Before(expiry) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}
