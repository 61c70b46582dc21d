package command

import (
	"path/filepath"
	"strings"
)

const TypeRefresh = "feedrefresh.command.refresh"

type RefreshMessage struct {
	DryRun bool
	// RecordPattern overrides the configured record glob when set.
	RecordPattern string
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	pattern := strings.TrimSpace(m.RecordPattern)
	if pattern == "" {
		return nil
	}
	if strings.ContainsRune(pattern, filepath.Separator) {
		return commandValidationError("record_pattern", "must be a file name pattern, not a path")
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return commandValidationError("record_pattern", err.Error())
	}
	return nil
}
