package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tendant/nodestore/pkg/nodestore"
	mongorepo "github.com/tendant/nodestore/pkg/nodestore/repo/mongo"
	"github.com/tendant/nodestore/pkg/nodestore/repo/repotest"
)

// Set NODESTORE_TEST_MONGO_URI to run these against a live server.
func setupDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("NODESTORE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("NODESTORE_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("nodestore_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		ctx := context.Background()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func TestRepositoryConformance(t *testing.T) {
	db := setupDB(t)

	repotest.Run(t, func(t *testing.T) nodestore.NodeRepository {
		ctx := context.Background()
		require.NoError(t, db.Collection(mongorepo.DefaultCollection).Drop(ctx))
		repo := mongorepo.New(db)
		require.NoError(t, repo.EnsureIndexes(ctx))
		return repo
	})
}

func TestEnsureIndexesTwice(t *testing.T) {
	repo := mongorepo.New(setupDB(t))
	ctx := context.Background()
	require.NoError(t, repo.EnsureIndexes(ctx))
	assert.NoError(t, repo.EnsureIndexes(ctx))
}
