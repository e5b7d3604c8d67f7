package bolt

import (
	"context"

	"github.com/goodtune/timewarden/internal/storage"
	"go.etcd.io/bbolt"
)

type userStore struct {
	db *bbolt.DB
}

func (s *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	return getBucketValue[storage.User](ctx, s.db, bucketUsers, id)
}

func (s *userStore) List(ctx context.Context) ([]storage.User, error) {
	return listBucket[storage.User](ctx, s.db, bucketUsers)
}

func (s *userStore) Upsert(ctx context.Context, user storage.User) error {
	return putBucketValue(ctx, s.db, bucketUsers, user.ID, user)
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketUsers, id)
}
