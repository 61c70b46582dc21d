package query

const (
	TypeRunHistory  = "feedrefresh.query.history.list"
	TypeRunOutcomes = "feedrefresh.query.run.outcomes"
	maxHistoryLimit = 500
)

type RunHistoryMessage struct {
	// EnrollmentID narrows the history to one enrollment when set.
	EnrollmentID string
	Limit        int
}

func (RunHistoryMessage) Type() string { return TypeRunHistory }

func (m RunHistoryMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "must be >= 0")
	}
	if m.Limit > maxHistoryLimit {
		return queryValidationError("limit", "must be <= 500")
	}
	return nil
}

type RunOutcomesMessage struct {
	RunID string
}

func (RunOutcomesMessage) Type() string { return TypeRunOutcomes }

func (m RunOutcomesMessage) Validate() error {
	if m.RunID == "" {
		return queryValidationError("run_id", "is required")
	}
	return nil
}
