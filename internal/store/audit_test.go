package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps an in-memory file map and injects write conflicts for a
// configurable number of attempts.
type flakyStore struct {
	files         map[string]string
	version       int
	conflictsLeft int
	writeCount    int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{files: map[string]string{}}
}

func (f *flakyStore) Read(_ context.Context, path string) (string, string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", "", ErrNotFound
	}
	return content, "v", nil
}

func (f *flakyStore) Write(_ context.Context, path, content, _, _ string) (string, error) {
	f.writeCount++
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return "", ErrConflict
	}
	f.files[path] = content
	f.version++
	return "v", nil
}

func (f *flakyStore) List(context.Context, string) ([]Entry, error) {
	return nil, ErrNotFound
}

func entryCount(t *testing.T, fs *flakyStore) int {
	t.Helper()
	raw, ok := fs.files[DeploymentLogPath]
	if !ok {
		return 0
	}
	var entries []DeploymentLogEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &entries))
	return len(entries)
}

func TestAuditAppendCreatesLog(t *testing.T) {
	fs := newFlakyStore()
	audit := NewAuditLog(fs)

	err := audit.Append(context.Background(), DeploymentLogEntry{
		ProjectID: 1, Platform: "vercel", Status: "starting", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, entryCount(t, fs))

	entries, _, err := audit.Entries(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, entries[0].ID)
}

func TestAuditAppendPreservesOrder(t *testing.T) {
	fs := newFlakyStore()
	audit := NewAuditLog(fs)

	for _, status := range []string{"starting", "failed", "fixing", "success"} {
		require.NoError(t, audit.Append(context.Background(), DeploymentLogEntry{
			ProjectID: 1, Platform: "netlify", Status: status,
		}))
	}

	entries, _, err := audit.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "starting", entries[0].Status)
	assert.Equal(t, "failed", entries[1].Status)
	assert.Equal(t, "fixing", entries[2].Status)
	assert.Equal(t, "success", entries[3].Status)
}

func TestAuditAppendRetriesOnConflict(t *testing.T) {
	fs := newFlakyStore()
	fs.conflictsLeft = 2
	audit := NewAuditLog(fs)

	err := audit.Append(context.Background(), DeploymentLogEntry{Status: "starting"})
	require.NoError(t, err)
	assert.Equal(t, 3, fs.writeCount)
	assert.Equal(t, 1, entryCount(t, fs))
}

func TestAuditAppendGivesUpAfterBoundedRetries(t *testing.T) {
	fs := newFlakyStore()
	fs.conflictsLeft = 10
	audit := NewAuditLog(fs)

	err := audit.Append(context.Background(), DeploymentLogEntry{Status: "starting"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, appendRetries, fs.writeCount)
	assert.Equal(t, 0, entryCount(t, fs))
}

func TestAuditEntriesMissingLog(t *testing.T) {
	fs := newFlakyStore()
	audit := NewAuditLog(fs)

	_, _, err := audit.Entries(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuditEntriesCorruptLog(t *testing.T) {
	fs := newFlakyStore()
	fs.files[DeploymentLogPath] = "not json"
	audit := NewAuditLog(fs)

	_, _, err := audit.Entries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestWriteMirrorCreatesAndReplaces(t *testing.T) {
	fs := newFlakyStore()

	require.NoError(t, WriteMirror(context.Background(), fs, ProjectMetaPath, map[string]string{"name": "demo"}))
	assert.Contains(t, fs.files[ProjectMetaPath], "demo")

	require.NoError(t, WriteMirror(context.Background(), fs, ProjectMetaPath, map[string]string{"name": "renamed"}))
	assert.Contains(t, fs.files[ProjectMetaPath], "renamed")
}

func TestWriteMirrorRetriesOnceOnConflict(t *testing.T) {
	fs := newFlakyStore()
	fs.conflictsLeft = 1

	require.NoError(t, WriteMirror(context.Background(), fs, AgentMemoryPath, map[string]int{"fixes": 1}))
	assert.Equal(t, 2, fs.writeCount)
}
