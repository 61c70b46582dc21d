// Package enrollment persists enrollment records as pretty-printed JSON files,
// one record per file.
package enrollment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goliatone/go-feed-refresh/core"
)

const filePerm = 0o600

type FileStore struct{}

func NewFileStore() *FileStore {
	return &FileStore{}
}

// Discover returns the record files in dir matching pattern, sorted by name.
func (*FileStore) Discover(dir string, pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = core.DefaultRecordPattern
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("enrollment: invalid record pattern %q: %w", pattern, err)
	}
	files := make([]string, 0, len(matches))
	for _, match := range matches {
		info, statErr := os.Stat(match)
		if statErr != nil || info.IsDir() {
			continue
		}
		files = append(files, match)
	}
	sort.Strings(files)
	return files, nil
}

func (*FileStore) Load(path string) (core.EnrollmentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.EnrollmentRecord{}, core.MissingCredentialError(err, path, "record file not found")
		}
		return core.EnrollmentRecord{}, core.MissingCredentialError(err, path, "record file unreadable")
	}
	return decodeRecord(path, data)
}

func (*FileStore) Save(path string, record core.EnrollmentRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return core.PersistenceError(err, path)
	}
	return writeFile(path, data)
}

// SavePayload validates a callback payload and writes it verbatim, re-indented,
// over the record at path. Payloads without an access token are rejected
// before anything touches the disk.
func (*FileStore) SavePayload(path string, payload []byte) (core.EnrollmentRecord, error) {
	var record core.EnrollmentRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return core.EnrollmentRecord{}, core.CallbackProtocolError(err, "callback: payload is not a json object")
	}
	if strings.TrimSpace(record.AccessToken) == "" {
		return core.EnrollmentRecord{}, core.CallbackProtocolError(nil, "callback: missing accessToken in request")
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, bytes.TrimSpace(payload), "", "  "); err != nil {
		return core.EnrollmentRecord{}, core.CallbackProtocolError(err, "callback: payload is not valid json")
	}
	if err := writeFile(path, indented.Bytes()); err != nil {
		return core.EnrollmentRecord{}, err
	}
	return record, nil
}

func decodeRecord(path string, data []byte) (core.EnrollmentRecord, error) {
	var record core.EnrollmentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return core.EnrollmentRecord{}, core.MissingCredentialError(err, path, "record file is not valid json")
	}
	if strings.TrimSpace(record.AccessToken) == "" {
		return core.EnrollmentRecord{}, core.MissingCredentialError(nil, path, "access token not found")
	}
	if record.EnrollmentID() == "" {
		return core.EnrollmentRecord{}, core.MissingCredentialError(nil, path, "enrollment id not found")
	}
	return record, nil
}

func writeFile(path string, data []byte) error {
	if !bytes.HasSuffix(data, []byte("\n")) {
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return core.PersistenceError(err, path)
	}
	return nil
}

var (
	_ core.EnrollmentStore   = (*FileStore)(nil)
	_ core.CallbackPersister = (*FileStore)(nil)
)
