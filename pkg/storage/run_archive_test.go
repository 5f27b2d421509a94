package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveClientAppend(t *testing.T) {
	store := NewMemoryStore()
	archive := NewArchiveClient(store, nil)
	ctx := context.Background()

	_, err := archive.Append(ctx, "run-1", &ArchiveEntry{
		ControllerID: "c1",
		Experiment:   "predator_prey",
		StoredAt:     time.Now(),
		Report:       json.RawMessage(`{"units":1}`),
	})
	require.NoError(t, err)

	url, err := archive.Append(ctx, "run-1", &ArchiveEntry{
		ControllerID: "c2",
		Experiment:   "predator_prey",
		StoredAt:     time.Now(),
		Report:       json.RawMessage(`{"units":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "memory://"+ArchivePath("run-1"), url)

	loaded, err := archive.Load(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.JSONEq(t, `{"units":2}`, string(loaded["c2"].Report))
	assert.Equal(t, "2", store.Metadata(ArchivePath("run-1"))["entry_count"])
}

func TestArchiveClientRecoversFromCorruptArchive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.Upload(ctx, ArchivePath("run-2"), []byte("not json"), nil)
	require.NoError(t, err)

	archive := NewArchiveClient(store, nil)
	_, err = archive.Append(ctx, "run-2", &ArchiveEntry{ControllerID: "c1", Report: json.RawMessage(`{}`)})
	require.NoError(t, err)

	loaded, err := archive.Load(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestArchiveClientWithoutStore(t *testing.T) {
	archive := NewArchiveClient(nil, nil)
	_, err := archive.Append(context.Background(), "run", &ArchiveEntry{ControllerID: "c"})
	assert.Error(t, err)
	_, err = archive.Load(context.Background(), "run")
	assert.Error(t, err)
}

func TestMemoryStoreDownloadMissing(t *testing.T) {
	_, err := NewMemoryStore().Download(context.Background(), "missing.json")
	assert.Error(t, err)
}
