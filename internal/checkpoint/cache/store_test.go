package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkpointd/checkpointd/internal/common/logger"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger(t))

	Save(store, "doc.json", &doc{Name: "ws1", Count: 3})

	loaded, ok := Load[doc](store, "doc.json")
	require.True(t, ok)
	assert.Equal(t, "ws1", loaded.Name)
	assert.Equal(t, 3, loaded.Count)
}

func TestStoreMissingFileIsMiss(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger(t))

	_, ok := Load[doc](store, "nope.json")
	assert.False(t, ok)
}

func TestStoreCorruptFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testLogger(t))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	_, ok := Load[doc](store, "bad.json")
	assert.False(t, ok)
}

func TestStoreRemove(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger(t))
	Save(store, "doc.json", &doc{Name: "ws1"})

	store.Remove("doc.json")
	_, ok := Load[doc](store, "doc.json")
	assert.False(t, ok)

	// Removing an absent file is not an error.
	store.Remove("doc.json")
}

func TestStoreRemoveMatching(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger(t))
	Save(store, StepsFile("ws1", "42"), &doc{})
	Save(store, StepsFile("ws1", "7"), &doc{})
	Save(store, StepsFile("ws2", "42"), &doc{})

	store.RemoveMatching("steps_ws1_*.json")

	_, ok := Load[doc](store, StepsFile("ws1", "42"))
	assert.False(t, ok)
	_, ok = Load[doc](store, StepsFile("ws1", "7"))
	assert.False(t, ok)
	_, ok = Load[doc](store, StepsFile("ws2", "42"))
	assert.True(t, ok, "other workspaces' files survive")
}

func TestCacheFileNames(t *testing.T) {
	assert.Equal(t, "workspaces.json", WorkspacesFile())
	assert.Equal(t, "tasks_ws1.json", TasksFile("ws1"))
	assert.Equal(t, "steps_ws1_42.json", StepsFile("ws1", "42"))
}
