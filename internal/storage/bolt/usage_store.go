package bolt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goodtune/timewarden/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func dailyUsageKey(date, userID string) string {
	return fmt.Sprintf("%s/%s", date, userID)
}

func (s *usageStore) Get(ctx context.Context, userID, date string) (*storage.DailyUsage, error) {
	return getBucketValue[storage.DailyUsage](ctx, s.db, bucketDailyUsage, dailyUsageKey(date, userID))
}

func (s *usageStore) Upsert(ctx context.Context, usage storage.DailyUsage) error {
	return putBucketValue(ctx, s.db, bucketDailyUsage, dailyUsageKey(usage.Date, usage.UserID), usage)
}

// ListForDate returns all ledger rows for one date. Keys are date-prefixed
// so a cursor seek covers exactly one day.
func (s *usageStore) ListForDate(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	rows := make([]storage.DailyUsage, 0)
	prefix := []byte(date + "/")
	return rows, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var row storage.DailyUsage
			if err := unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
}

func (s *usageStore) ListForUserRange(ctx context.Context, userID, fromDate, toDate string) ([]storage.DailyUsage, error) {
	rows := make([]storage.DailyUsage, 0)
	return rows, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek([]byte(fromDate)); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var row storage.DailyUsage
			if err := unmarshal(v, &row); err != nil {
				return err
			}
			if row.Date > toDate {
				break
			}
			if row.UserID == userID {
				rows = append(rows, row)
			}
		}
		return nil
	})
}

func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var row storage.DailyUsage
			if err := unmarshal(v, &row); err != nil {
				return err
			}
			if row.Date >= cutoffDate {
				// Keys sort by date first, nothing older past this point.
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
}
