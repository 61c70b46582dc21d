package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FeedName is the tag a downstream consumer uses to identify an account feed.
type FeedName string

// FeedNameMapping is the closed mapping from provider account name to feed tag.
type FeedNameMapping map[string]FeedName

func (m FeedNameMapping) Lookup(accountName string) (FeedName, bool) {
	if len(m) == 0 {
		return "", false
	}
	name, ok := m[accountName]
	if !ok || strings.TrimSpace(string(name)) == "" {
		return "", false
	}
	return name, true
}

func DefaultFeedNameMapping() FeedNameMapping {
	return FeedNameMapping{
		"American Express Gold Card": "AMEX_GOLD",
		"Platinum Card\u00ae":        "AMEX_PLATINUM",
		"Sapphire Reserve":           "CHASE_SAPPHIRE",
		"Freedom Unlimited":          "CHASE_FREEDOM_UNLIMITED",
		"Freedom":                    "CHASE_FREEDOM",
		"TOTAL CHECKING":             "CHASE_CHECKING",
	}
}

// Account is a provider account. Fields other than id and name are carried
// through untouched. id and name are written back only when they were decoded
// or have been set.
type Account struct {
	ID     string
	Name   string
	Fields map[string]json.RawMessage

	hasID   bool
	hasName bool
}

func (a Account) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	putString(known, "id", a.ID, a.hasID)
	putString(known, "name", a.Name, a.hasName)
	return marshalWithFields(a.Fields, known)
}

func (a *Account) UnmarshalJSON(data []byte) error {
	fields, err := unmarshalFields(data)
	if err != nil {
		return err
	}
	if a.hasID, err = takeString(fields, "id", &a.ID); err != nil {
		return err
	}
	if a.hasName, err = takeString(fields, "name", &a.Name); err != nil {
		return err
	}
	a.Fields = fields
	return nil
}

type Enrollment struct {
	ID     string
	Fields map[string]json.RawMessage

	hasID bool
}

func (e Enrollment) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	putString(known, "id", e.ID, e.hasID)
	return marshalWithFields(e.Fields, known)
}

func (e *Enrollment) UnmarshalJSON(data []byte) error {
	fields, err := unmarshalFields(data)
	if err != nil {
		return err
	}
	if e.hasID, err = takeString(fields, "id", &e.ID); err != nil {
		return err
	}
	e.Fields = fields
	return nil
}

func (e Enrollment) isZero() bool {
	return e.ID == "" && len(e.Fields) == 0 && !e.hasID
}

// EnrollmentRecord is the persisted session data for one institution link.
// Accounts is nil until the first successful fetch and is omitted from the
// serialized form in that case.
type EnrollmentRecord struct {
	AccessToken string
	Enrollment  Enrollment
	Accounts    []Account
	Fields      map[string]json.RawMessage

	hasAccessToken bool
	hasEnrollment  bool
}

// MarshalJSON writes known keys only when they were decoded or have been set,
// so a record never gains keys its source did not have.
func (r EnrollmentRecord) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	putString(known, "accessToken", r.AccessToken, r.hasAccessToken)
	if r.hasEnrollment || !r.Enrollment.isZero() {
		known["enrollment"] = r.Enrollment
	}
	if r.Accounts != nil {
		known["accounts"] = r.Accounts
	}
	return marshalWithFields(r.Fields, known)
}

func (r *EnrollmentRecord) UnmarshalJSON(data []byte) error {
	fields, err := unmarshalFields(data)
	if err != nil {
		return err
	}
	if r.hasAccessToken, err = takeString(fields, "accessToken", &r.AccessToken); err != nil {
		return err
	}
	r.Enrollment = Enrollment{}
	r.hasEnrollment = false
	if raw, ok := fields["enrollment"]; ok && !isJSONNull(raw) {
		delete(fields, "enrollment")
		if err := json.Unmarshal(raw, &r.Enrollment); err != nil {
			return fmt.Errorf("core: decode enrollment: %w", err)
		}
		r.hasEnrollment = true
	}
	r.Accounts = nil
	if raw, ok := fields["accounts"]; ok && !isJSONNull(raw) {
		delete(fields, "accounts")
		if err := json.Unmarshal(raw, &r.Accounts); err != nil {
			return fmt.Errorf("core: decode accounts: %w", err)
		}
	}
	r.Fields = fields
	return nil
}

func (r EnrollmentRecord) EnrollmentID() string {
	return strings.TrimSpace(r.Enrollment.ID)
}

// FeedEntry is a per-account identifier keyed by FeedName in the registry.
type FeedEntry struct {
	FeedName    FeedName `json:"feedName"`
	AccessToken string   `json:"accessToken"`
	AccountID   string   `json:"accountId"`
}

type RecordState string

const (
	RecordStateLoaded           RecordState = "loaded"
	RecordStateVerifiedOK       RecordState = "verified_ok"
	RecordStateVerifiedBad      RecordState = "verified_bad"
	RecordStateAwaitingCallback RecordState = "awaiting_callback"
	RecordStateCallbackDone     RecordState = "callback_done"
	RecordStateCollected        RecordState = "collected"
	RecordStateSkipped          RecordState = "skipped"
)

func (s RecordState) Terminal() bool {
	switch s {
	case RecordStateVerifiedOK, RecordStateCollected, RecordStateSkipped:
		return true
	default:
		return false
	}
}

// RecordOutcome is the final state reached by one enrollment record in a run.
// Err is set for skipped records and for collected records whose account
// fetch failed after the new token was persisted.
type RecordOutcome struct {
	Path         string
	EnrollmentID string
	State        RecordState
	Entries      int
	Err          error
}

type BatchReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []RecordOutcome
	Entries    []FeedEntry
	Merged     bool
	BackupPath string
	MergeErr   error
	// Aborted is set when a projection failure stopped the remaining batch.
	Aborted bool
}

// Failed reports whether any record or the final merge ended in error.
func (r BatchReport) Failed() bool {
	if r.MergeErr != nil || r.Aborted {
		return true
	}
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			return true
		}
	}
	return false
}

// RefreshRequest carries per-run overrides on top of the loaded config.
type RefreshRequest struct {
	DryRun        bool
	RecordPattern string
}

// JournalEntry is one persisted record outcome.
type JournalEntry struct {
	ID           string
	RunID        string
	RecordPath   string
	EnrollmentID string
	State        RecordState
	Entries      int
	ErrorCode    string
	Error        string
	CreatedAt    time.Time
}

func (r BatchReport) CountByState() map[RecordState]int {
	counts := map[RecordState]int{}
	for _, outcome := range r.Outcomes {
		counts[outcome.State]++
	}
	return counts
}

func unmarshalFields(data []byte) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("core: expected json object")
	}
	return fields, nil
}

// takeString moves a string key out of fields. A null value stays in fields
// as opaque data and is reported as absent.
func takeString(fields map[string]json.RawMessage, key string, target *string) (bool, error) {
	*target = ""
	raw, ok := fields[key]
	if !ok || isJSONNull(raw) {
		return false, nil
	}
	delete(fields, key)
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("core: field %q must be a string: %w", key, err)
	}
	return true, nil
}

func putString(known map[string]any, key string, value string, present bool) {
	if present || value != "" {
		known[key] = value
	}
}

func marshalWithFields(fields map[string]json.RawMessage, known map[string]any) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(fields)+len(known))
	for key, value := range fields {
		out[key] = value
	}
	for key, value := range known {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		out[key] = encoded
	}
	return json.Marshal(out)
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
