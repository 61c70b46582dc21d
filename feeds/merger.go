package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-feed-refresh/core"
)

const (
	backupDateLayout = "2006-01-02"
	registryFilePerm = 0o644
	registryDirPerm  = 0o755
)

type Merger struct {
	BackupPattern string
	Now           func() time.Time
	Observer      core.Observer
}

func NewMerger(backupPattern string, observer core.Observer) *Merger {
	return &Merger{
		BackupPattern: backupPattern,
		Now:           time.Now,
		Observer:      observer,
	}
}

// BackupPath substitutes the calendar date of now into pattern.
func BackupPath(pattern string, now time.Time) string {
	return strings.ReplaceAll(pattern, core.BackupDatePlaceholder, now.Format(backupDateLayout))
}

// registryItem is one element of the registry array. Raw keeps the element
// exactly as it was read so fields this tool does not know about survive.
type registryItem struct {
	FeedName core.FeedName
	Raw      json.RawMessage
}

// MergeAndWrite backs up the registry at outputPath (when present), overlays
// entries by feed name and rewrites the registry in full. Existing feeds keep
// their position; feeds not seen before are appended in input order.
func (m *Merger) MergeAndWrite(ctx context.Context, outputPath string, entries []core.FeedEntry) (core.MergeResult, error) {
	startedAt := time.Now()
	fields := map[string]any{"output_path": outputPath, "entries": len(entries)}

	result, err := m.mergeAndWrite(outputPath, entries)
	if err == nil {
		fields["backup_path"] = result.BackupPath
		fields["registry_size"] = len(result.Entries)
	}
	m.Observer.ObserveOperation(ctx, startedAt, "merge_feeds", err, fields)
	return result, err
}

func (m *Merger) mergeAndWrite(outputPath string, entries []core.FeedEntry) (core.MergeResult, error) {
	outputPath = strings.TrimSpace(outputPath)
	if outputPath == "" {
		return core.MergeResult{}, core.NewError("feeds: output path is required", goerrors.CategoryBadInput, core.ErrorBadInput, nil)
	}
	result := core.MergeResult{OutputPath: outputPath}

	existing, err := os.ReadFile(outputPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		existing = nil
	case err != nil:
		return result, core.WrapError(err, goerrors.CategoryInternal, "feeds: read registry", core.ErrorPersistenceFailure, map[string]any{
			"path": outputPath,
		})
	default:
		backupPath, backupErr := m.backup(outputPath, existing)
		if backupErr != nil {
			return result, backupErr
		}
		result.BackupPath = backupPath
	}

	current, err := decodeRegistry(outputPath, existing)
	if err != nil {
		return result, err
	}
	merged, err := merge(current, entries)
	if err != nil {
		return result, err
	}

	data, err := encodeRegistry(merged)
	if err != nil {
		return result, core.PersistenceError(err, outputPath)
	}
	if err := writeAtomic(outputPath, data); err != nil {
		return result, err
	}

	result.Entries = make([]core.FeedEntry, 0, len(merged))
	for _, item := range merged {
		var entry core.FeedEntry
		if err := json.Unmarshal(item.Raw, &entry); err == nil {
			result.Entries = append(result.Entries, entry)
		}
	}
	return result, nil
}

// merge overlays entries onto current keyed by feed name. Later entries win
// over earlier ones and over anything already in current.
func merge(current []registryItem, entries []core.FeedEntry) ([]registryItem, error) {
	index := make(map[core.FeedName]int, len(current)+len(entries))
	merged := make([]registryItem, 0, len(current)+len(entries))
	put := func(item registryItem) {
		if i, ok := index[item.FeedName]; ok {
			merged[i] = item
			return
		}
		index[item.FeedName] = len(merged)
		merged = append(merged, item)
	}

	for _, item := range current {
		put(item)
	}
	for _, entry := range entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, core.WrapError(err, goerrors.CategoryInternal, "feeds: encode entry", core.ErrorInternal, map[string]any{
				"feed_name": string(entry.FeedName),
			})
		}
		put(registryItem{FeedName: entry.FeedName, Raw: raw})
	}
	return merged, nil
}

func (m *Merger) backup(outputPath string, existing []byte) (string, error) {
	pattern := strings.TrimSpace(m.BackupPattern)
	if pattern == "" {
		pattern = core.DefaultFeedsBackupPath
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	backupPath := BackupPath(pattern, now())
	if err := os.MkdirAll(filepath.Dir(backupPath), registryDirPerm); err != nil {
		return "", core.PersistenceError(err, backupPath)
	}
	if err := os.WriteFile(backupPath, existing, registryFilePerm); err != nil {
		return "", core.PersistenceError(err, backupPath)
	}
	m.Observer.Info(context.Background(), "registry backup created", map[string]any{
		"output_path": outputPath,
		"backup_path": backupPath,
	})
	return backupPath, nil
}

func decodeRegistry(path string, data []byte) ([]registryItem, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, core.WrapError(err, goerrors.CategoryValidation, "feeds: registry is not a json array", core.ErrorBadInput, map[string]any{
			"path": path,
		})
	}
	items := make([]registryItem, 0, len(raw))
	for i, element := range raw {
		var head struct {
			FeedName core.FeedName `json:"feedName"`
		}
		if err := json.Unmarshal(element, &head); err != nil || strings.TrimSpace(string(head.FeedName)) == "" {
			return nil, core.WrapError(err, goerrors.CategoryValidation, "feeds: registry entry has no feedName", core.ErrorBadInput, map[string]any{
				"path":  path,
				"index": i,
			})
		}
		items = append(items, registryItem{FeedName: head.FeedName, Raw: element})
	}
	return items, nil
}

func encodeRegistry(items []registryItem) ([]byte, error) {
	raw := make([]json.RawMessage, len(items))
	for i, item := range items {
		raw[i] = item.Raw
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// writeAtomic replaces path through a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, registryDirPerm); err != nil {
		return core.PersistenceError(err, path)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return core.PersistenceError(err, path)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return core.PersistenceError(err, path)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return core.PersistenceError(err, path)
	}
	if err := os.Chmod(tmpName, registryFilePerm); err != nil {
		cleanup()
		return core.PersistenceError(err, path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return core.PersistenceError(err, path)
	}
	return nil
}

var _ core.FeedMerger = (*Merger)(nil)
