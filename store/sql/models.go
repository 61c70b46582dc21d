package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type runOutcomeRecord struct {
	bun.BaseModel `bun:"table:refresh_run_outcomes,alias:rro"`

	ID           string    `bun:"id,pk"`
	RunID        string    `bun:"run_id,notnull"`
	RecordPath   string    `bun:"record_path,notnull"`
	EnrollmentID string    `bun:"enrollment_id,notnull"`
	State        string    `bun:"state,notnull"`
	Entries      int       `bun:"entries,notnull"`
	ErrorCode    string    `bun:"error_code,notnull"`
	Error        string    `bun:"error,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
