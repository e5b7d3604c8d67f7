package bolt

import (
	"context"

	"github.com/goodtune/timewarden/internal/storage"
	"go.etcd.io/bbolt"
)

type scheduleStore struct {
	db *bbolt.DB
}

func (s *scheduleStore) Get(ctx context.Context, userID string) (*storage.AllowanceSchedule, error) {
	return getBucketValue[storage.AllowanceSchedule](ctx, s.db, bucketSchedules, userID)
}

func (s *scheduleStore) Upsert(ctx context.Context, schedule storage.AllowanceSchedule) error {
	return putBucketValue(ctx, s.db, bucketSchedules, schedule.UserID, schedule)
}
