package bolt

import (
	"context"

	"github.com/goodtune/timewarden/internal/storage"
	"go.etcd.io/bbolt"
)

type connectivityStore struct {
	db *bbolt.DB
}

func (s *connectivityStore) Get(ctx context.Context, userID string) (*storage.ConnectivityState, error) {
	return getBucketValue[storage.ConnectivityState](ctx, s.db, bucketConnectivity, userID)
}

func (s *connectivityStore) Upsert(ctx context.Context, state storage.ConnectivityState) error {
	return putBucketValue(ctx, s.db, bucketConnectivity, state.UserID, state)
}

func (s *connectivityStore) List(ctx context.Context) ([]storage.ConnectivityState, error) {
	return listBucket[storage.ConnectivityState](ctx, s.db, bucketConnectivity)
}
