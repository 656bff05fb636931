package neo4j_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tendant/nodestore/pkg/nodestore"
	neo4jrepo "github.com/tendant/nodestore/pkg/nodestore/repo/neo4j"
	"github.com/tendant/nodestore/pkg/nodestore/repo/repotest"
)

// Set NODESTORE_TEST_NEO4J_URI (plus NODESTORE_TEST_NEO4J_USER and
// NODESTORE_TEST_NEO4J_PASSWORD) to run these against a disposable server.
func setupRepo(t *testing.T) *neo4jrepo.Repository {
	t.Helper()
	uri := os.Getenv("NODESTORE_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("NODESTORE_TEST_NEO4J_URI not set")
	}

	ctx := context.Background()
	repo, err := neo4jrepo.New(ctx, neo4jrepo.Config{
		URI:      uri,
		Username: os.Getenv("NODESTORE_TEST_NEO4J_USER"),
		Password: os.Getenv("NODESTORE_TEST_NEO4J_PASSWORD"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close(context.Background()) })
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func TestRepositoryConformance(t *testing.T) {
	repo := setupRepo(t)

	repotest.Run(t, func(t *testing.T) nodestore.NodeRepository {
		ctx := context.Background()
		res, err := repo.Filter(ctx, nil, 0, 1)
		require.NoError(t, err)
		for _, n := range res.Nodes {
			require.NoError(t, repo.Delete(ctx, n.UUID))
		}
		return repo
	})
}
