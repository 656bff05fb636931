package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/nodestore/pkg/nodestore"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NODESTORE_DATABASE_URL", "flatfile://"+filepath.Join(dir, "nodes.json"))
	t.Setenv("NODESTORE_STORAGE_URL", "file://"+filepath.Join(dir, "blobs"))
	t.Setenv("NODESTORE_EVENT_LOGGING", "false")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, out)
	return out
}

func decodeNode(t *testing.T, out string) *nodestore.Node {
	t.Helper()
	var n nodestore.Node
	require.NoError(t, json.Unmarshal([]byte(out), &n))
	return &n
}

func TestWorkflow(t *testing.T) {
	dir := setupEnv(t)

	folder := decodeNode(t, mustExecute(t, "mkdir", "Projects", "--as", "alice@example.com"))
	assert.Equal(t, nodestore.FolderMimetype, folder.Mimetype)
	assert.Equal(t, "alice@example.com", folder.Owner)

	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("remember the milk"), 0644))
	file := decodeNode(t, mustExecute(t, "upload", src, "--parent", folder.UUID, "--tag", "todo"))
	assert.Equal(t, "notes.txt", file.Title)
	assert.Equal(t, int64(17), file.Size)
	assert.Equal(t, folder.UUID, file.Parent)
	assert.Equal(t, []string{"todo"}, file.Tags)

	var children []*nodestore.Node
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, "ls", folder.UUID)), &children))
	require.Len(t, children, 1)
	assert.Equal(t, file.UUID, children[0].UUID)

	assert.Equal(t, "remember the milk", mustExecute(t, "export", file.UUID))

	var found nodestore.NodeFilterResult
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, "find", `[["tags","array-contains","todo"]]`)), &found))
	require.Len(t, found.Nodes, 1)
	assert.Equal(t, file.UUID, found.Nodes[0].UUID)

	renamed := decodeNode(t, mustExecute(t, "update", file.UUID, "--title", "groceries.txt"))
	assert.Equal(t, "groceries.txt", renamed.Title)

	var trail []*nodestore.Node
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, "breadcrumbs", file.UUID)), &trail))
	require.NotEmpty(t, trail)
	assert.Equal(t, folder.UUID, trail[len(trail)-1].UUID)

	assert.Contains(t, mustExecute(t, "rm", folder.UUID), "Deleted "+folder.UUID)
	_, err := execute(t, "get", file.UUID)
	assert.ErrorIs(t, err, nodestore.ErrNotFound)
}

func TestSmartFolderEvaluation(t *testing.T) {
	dir := setupEnv(t)

	for _, name := range []string{"a.txt", "b.txt"} {
		src := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(src, []byte(name), 0644))
		mustExecute(t, "upload", src, "--mimetype", "text/plain")
	}
	smart := decodeNode(t, mustExecute(t, "create",
		"--title", "Text files",
		"--mimetype", nodestore.SmartFolderMimetype,
		"--filter", `["mimetype","==","text/plain"]`,
		"--aggregations", `[{"title":"Total","fieldName":"size","formula":"sum"}]`,
	))

	var eval nodestore.SmartFolderEvaluation
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, "evaluate", smart.UUID)), &eval))
	assert.Len(t, eval.Records, 2)
	require.Len(t, eval.Aggregations, 1)
}

func TestUpdateRequiresChanges(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "update", "node0001")
	assert.EqualError(t, err, "nothing to update")
}

func TestKeygen(t *testing.T) {
	out := mustExecute(t, "keygen")
	assert.Contains(t, out, "AGE-SECRET-KEY-")

	path := filepath.Join(t.TempDir(), "key.txt")
	out = mustExecute(t, "keygen", "-o", path)
	assert.Contains(t, out, "Public key: age1")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "AGE-SECRET-KEY-")
}

func TestEnvCommand(t *testing.T) {
	assert.Contains(t, mustExecute(t, "env"), "NODESTORE_STORAGE_URL")
}

func TestParseProperties(t *testing.T) {
	props, err := parseProperties([]string{"invoice:amount=12.5", "invoice:client=ACME", `invoice:lines=["a"]`})
	require.NoError(t, err)
	assert.True(t, props["invoice:amount"].Equal(nodestore.Number(12.5)))
	assert.True(t, props["invoice:client"].Equal(nodestore.String("ACME")))
	assert.True(t, props["invoice:lines"].Equal(nodestore.Strings("a")))

	_, err = parseProperties([]string{"novalue"})
	assert.Error(t, err)
}
