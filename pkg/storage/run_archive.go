package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ArchiveEntry is one report kept in a run archive.
type ArchiveEntry struct {
	ControllerID string          `json:"controller_id"`
	Experiment   string          `json:"experiment"`
	StoredAt     time.Time       `json:"stored_at"`
	Report       json.RawMessage `json:"report"`
}

// RunArchive is the shared archive of a run: every experiment closed during
// the run adds its entry, keyed by controller ID.
type RunArchive map[string]*ArchiveEntry

// ArchiveClient maintains run archives on a ReportStore.
type ArchiveClient struct {
	store  ReportStore
	logger *zap.Logger
	mu     sync.Mutex // serializes read-modify-write of archives
}

// NewArchiveClient creates an archive client.
func NewArchiveClient(store ReportStore, logger *zap.Logger) *ArchiveClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveClient{store: store, logger: logger}
}

// ArchivePath returns the blob path of a run archive.
func ArchivePath(runID string) string {
	return fmt.Sprintf("benchmarks/%s/archive.json", runID)
}

// ReportPath returns the blob path of a single report.
func ReportPath(runID, controllerID string) string {
	return fmt.Sprintf("benchmarks/%s/%s.json", runID, controllerID)
}

// Append adds or replaces an entry of the run archive and returns the
// archive URL.
func (c *ArchiveClient) Append(ctx context.Context, runID string, entry *ArchiveEntry) (string, error) {
	if c.store == nil {
		return "", fmt.Errorf("report store not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := ArchivePath(runID)
	archive := make(RunArchive)
	existing, err := c.store.Download(ctx, path)
	if err != nil {
		c.logger.Debug("Run archive does not exist yet, creating new",
			zap.String("blob_path", path))
	} else if err := json.Unmarshal(existing, &archive); err != nil {
		c.logger.Error("Failed to parse run archive, starting fresh",
			zap.String("blob_path", path),
			zap.Error(err))
		archive = make(RunArchive)
	}

	archive[entry.ControllerID] = entry

	data, err := json.Marshal(archive)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run archive: %w", err)
	}

	url, err := c.store.Upload(ctx, path, data, map[string]string{
		"run_id":          runID,
		"last_controller": entry.ControllerID,
		"entry_count":     strconv.Itoa(len(archive)),
		"last_modified":   time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload run archive: %w", err)
	}

	c.logger.Info("Appended report to run archive",
		zap.String("run_id", runID),
		zap.String("controller_id", entry.ControllerID),
		zap.Int("entries", len(archive)))

	return url, nil
}

// Load downloads and parses a run archive.
func (c *ArchiveClient) Load(ctx context.Context, runID string) (RunArchive, error) {
	if c.store == nil {
		return nil, fmt.Errorf("report store not initialized")
	}

	data, err := c.store.Download(ctx, ArchivePath(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to download run archive: %w", err)
	}

	var archive RunArchive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("failed to parse run archive: %w", err)
	}
	return archive, nil
}
