package instrumented_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/repo/instrumented"
	"github.com/tendant/nodestore/pkg/nodestore/repo/memory"
	"github.com/tendant/nodestore/pkg/nodestore/repo/repotest"
)

func TestRepositoryConformance(t *testing.T) {
	metrics, err := instrumented.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	repotest.Run(t, func(t *testing.T) nodestore.NodeRepository {
		return instrumented.New(memory.New(), metrics, "memory")
	})
}

func TestRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := instrumented.NewMetrics(reg)
	require.NoError(t, err)
	repo := instrumented.New(memory.New(), metrics, "memory")
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, repotest.FullNode("node0001")))
	_, err = repo.GetByID(ctx, "missing1")
	require.Error(t, err)
	_, err = repo.Filter(ctx, nil, 0, 1)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "nodestore_repository_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	expected := `
# HELP nodestore_repository_operations_total Repository operations by backend, operation and outcome.
# TYPE nodestore_repository_operations_total counter
nodestore_repository_operations_total{backend="memory",operation="add",outcome="ok"} 1
nodestore_repository_operations_total{backend="memory",operation="filter",outcome="ok"} 1
nodestore_repository_operations_total{backend="memory",operation="get_by_id",outcome="not_found"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "nodestore_repository_operations_total"))
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := instrumented.NewMetrics(reg)
	require.NoError(t, err)
	_, err = instrumented.NewMetrics(reg)
	assert.Error(t, err)
}
