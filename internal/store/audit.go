package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Paths inside the reserved namespace.
const (
	DeploymentLogPath = Namespace + "/deployment-logs.json"
	TasksPath         = Namespace + "/tasks.json"
	AgentMemoryPath   = Namespace + "/agent-memory.json"
	ProjectMetaPath   = Namespace + "/project.json"
)

// appendRetries bounds how many fresh reads an append attempts when its
// optimistic write collides.
const appendRetries = 3

// DeploymentLogEntry is one immutable audit record. Entries are appended,
// never edited; readers must treat the sequence as ordered by position, not
// by timestamp alone.
type DeploymentLogEntry struct {
	ID           string    `json:"id"`
	ProjectID    uint      `json:"project_id"`
	Platform     string    `json:"platform"`
	Status       string    `json:"status"` // starting, success, failed, fixing, retry_failed
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	URL          string    `json:"url,omitempty"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	FilesFixed   []string  `json:"files_fixed,omitempty"`
}

// AuditLog appends deployment log entries to the per-project log file under
// optimistic concurrency. Each append is a read-modify-write of the whole
// ordered array.
type AuditLog struct {
	fs FileStore
}

// NewAuditLog returns an audit log writing through the given store.
func NewAuditLog(fs FileStore) *AuditLog {
	return &AuditLog{fs: fs}
}

// Append adds one entry to the end of the log. A concurrency conflict is
// retried with a fresh read; the conflict is only surfaced once retries are
// exhausted.
func (a *AuditLog) Append(ctx context.Context, entry DeploymentLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		entries, version, err := a.Entries(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		entries = append(entries, entry)
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("deployment log: %s", entry.Status)
		if _, err := a.fs.Write(ctx, DeploymentLogPath, string(data), msg, version); err != nil {
			if errors.Is(err, ErrConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("audit append failed after %d attempts: %w", appendRetries, lastErr)
}

// Entries returns the ordered log plus the current version token of the log
// file. A missing log file yields an empty list and ErrNotFound.
func (a *AuditLog) Entries(ctx context.Context) ([]DeploymentLogEntry, string, error) {
	content, version, err := a.fs.Read(ctx, DeploymentLogPath)
	if err != nil {
		return nil, "", err
	}
	var entries []DeploymentLogEntry
	if err := json.Unmarshal([]byte(content), &entries); err != nil {
		return nil, "", fmt.Errorf("corrupt deployment log: %w", err)
	}
	return entries, version, nil
}

// WriteMirror persists a JSON mirror file inside the reserved namespace.
// Mirrors are advisory state, so a single conflicting writer wins silently
// after one fresh-read retry.
func WriteMirror(ctx context.Context, fs FileStore, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	for attempt := 0; attempt < 2; attempt++ {
		_, version, err := fs.Read(ctx, path)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		_, err = fs.Write(ctx, path, string(data), "update "+path, version)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return ErrConflict
}
