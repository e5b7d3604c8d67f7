package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/timewarden/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

// CreateActive writes a running session and claims the user's active slot.
// The single-writer transaction makes the check-then-create atomic.
func (s *sessionStore) CreateActive(ctx context.Context, session storage.Session) error {
	data, err := marshal(session)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		active := tx.Bucket([]byte(bucketActiveSessions))
		if active == nil {
			return fmt.Errorf("active sessions bucket missing")
		}
		if existing := active.Get([]byte(session.UserID)); existing != nil {
			return storage.ErrActiveSessionExists
		}
		sessions := tx.Bucket([]byte(bucketSessions))
		if sessions == nil {
			return fmt.Errorf("sessions bucket missing")
		}
		if err := sessions.Put([]byte(session.ID), data); err != nil {
			return err
		}
		return active.Put([]byte(session.UserID), []byte(session.ID))
	})
}

// Upsert writes a session and keeps the active slot consistent with Running.
func (s *sessionStore) Upsert(ctx context.Context, session storage.Session) error {
	data, err := marshal(session)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sessions := tx.Bucket([]byte(bucketSessions))
		if sessions == nil {
			return fmt.Errorf("sessions bucket missing")
		}
		if err := sessions.Put([]byte(session.ID), data); err != nil {
			return err
		}
		active := tx.Bucket([]byte(bucketActiveSessions))
		if active == nil {
			return fmt.Errorf("active sessions bucket missing")
		}
		if session.Running {
			return active.Put([]byte(session.UserID), []byte(session.ID))
		}
		// Only release the slot if this session still holds it.
		if current := active.Get([]byte(session.UserID)); string(current) == session.ID {
			return active.Delete([]byte(session.UserID))
		}
		return nil
	})
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	return getBucketValue[storage.Session](ctx, s.db, bucketSessions, id)
}

func (s *sessionStore) GetActive(ctx context.Context, userID string) (*storage.Session, error) {
	var session *storage.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		active := tx.Bucket([]byte(bucketActiveSessions))
		if active == nil {
			return storage.ErrNotFound
		}
		id := active.Get([]byte(userID))
		if id == nil {
			return storage.ErrNotFound
		}
		sessions := tx.Bucket([]byte(bucketSessions))
		if sessions == nil {
			return storage.ErrNotFound
		}
		value := sessions.Get(id)
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.Session
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		if !result.Running {
			return storage.ErrNotFound
		}
		session = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessionStore) ListActive(ctx context.Context) ([]storage.Session, error) {
	sessions := make([]storage.Session, 0)
	return sessions, s.db.View(func(tx *bbolt.Tx) error {
		active := tx.Bucket([]byte(bucketActiveSessions))
		all := tx.Bucket([]byte(bucketSessions))
		if active == nil || all == nil {
			return nil
		}
		return active.ForEach(func(_, id []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			value := all.Get(id)
			if value == nil {
				return nil
			}
			var session storage.Session
			if err := unmarshal(value, &session); err != nil {
				return err
			}
			if session.Running {
				sessions = append(sessions, session)
			}
			return nil
		})
	})
}

func (s *sessionStore) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if !session.Running && session.StartedAt.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}
