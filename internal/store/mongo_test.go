// ABOUTME: Tests for MongoStore collection setup without a running server
// ABOUTME: Covers index build failures on collections holding duplicate userId documents

package store

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// newOfflineMongoStore builds a store whose client never dials; collection
// handles are created locally and the index build is replaced by indexErr.
func newOfflineMongoStore(t *testing.T, indexErr error) (*MongoStore, *int) {
	t.Helper()
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	calls := 0
	return &MongoStore{
		client: client,
		db:     client.Database("test"),
		logger: slog.Default(),
		ensureIndex: func(context.Context, *mongo.Collection) error {
			calls++
			return indexErr
		},
	}, &calls
}

func TestMongoStore_CollectionToleratesDuplicateUsers(t *testing.T) {
	dupErr := mongo.CommandError{Code: 11000, Message: "E11000 duplicate key error collection: threads3 index: userId_1"}
	s, calls := newOfflineMongoStore(t, dupErr)
	ctx := context.Background()

	coll, err := s.collection(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "threads3", coll.Name())

	again, err := s.collection(ctx, "3")
	require.NoError(t, err)
	assert.Same(t, coll, again)
	assert.Equal(t, 1, *calls, "handle is cached after the duplicate-key warning")
}

func TestMongoStore_CollectionIndexFailure(t *testing.T) {
	s, calls := newOfflineMongoStore(t, errors.New("not primary"))
	ctx := context.Background()

	_, err := s.collection(ctx, "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensuring userId index")

	_, err = s.collection(ctx, "3")
	require.Error(t, err)
	assert.Equal(t, 2, *calls, "transient failures are retried on the next request")
}

func TestMongoStore_CollectionCachedPerTopic(t *testing.T) {
	s, calls := newOfflineMongoStore(t, nil)
	ctx := context.Background()

	for _, topic := range []string{"3", "routing", "3"} {
		_, err := s.collection(ctx, topic)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, *calls)
}
