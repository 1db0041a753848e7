package domain

import (
	"strings"

	"gopkg.in/yaml.v3"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusReady          Status = "ready"
	StatusInProgress     Status = "in_progress"
	StatusPaused         Status = "paused"
	StatusBlocked        Status = "blocked"
	StatusNeedsAttention Status = "needs_attention"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Statuses lists every status in declaration order.
var Statuses = []Status{
	StatusPending,
	StatusReady,
	StatusInProgress,
	StatusPaused,
	StatusBlocked,
	StatusNeedsAttention,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusReady, StatusInProgress, StatusPaused, StatusBlocked,
		StatusNeedsAttention, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further work is expected on the item.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// MergeRank orders statuses for merge reconciliation; the higher rank wins.
// Unknown statuses rank below everything.
func (s Status) MergeRank() int {
	switch s {
	case StatusCancelled:
		return 0
	case StatusFailed:
		return 1
	case StatusNeedsAttention:
		return 2
	case StatusBlocked:
		return 3
	case StatusPending:
		return 4
	case StatusReady:
		return 5
	case StatusPaused:
		return 6
	case StatusInProgress:
		return 7
	case StatusCompleted:
		return 8
	}
	return -1
}

// ParseStatus accepts the canonical form plus the hyphenated and
// space-separated variants people type on the command line.
func ParseStatus(s string) (Status, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if norm == "canceled" {
		norm = string(StatusCancelled)
	}
	st := Status(norm)
	return st, st.IsValid()
}

// ExtraField is a front-matter key the engine does not interpret. Extras are
// kept in file order and written back untouched.
type ExtraField struct {
	Key   string
	Value yaml.Node
}

// Spec is one unit of schedulable work, stored as {id}.md.
type Spec struct {
	ID                   string   `json:"id"`
	Type                 string   `json:"type,omitempty"`
	Status               Status   `json:"status" enum:"pending,ready,in_progress,paused,blocked,needs_attention,completed,failed,cancelled"`
	DependsOn            []string `json:"depends_on,omitempty"`
	TargetFiles          []string `json:"target_files,omitempty"`
	Labels               []string `json:"labels,omitempty"`
	Context              []string `json:"context,omitempty"`
	Commits              []string `json:"commits,omitempty"`
	Branch               string   `json:"branch,omitempty"`
	CompletedAt          string   `json:"completed_at,omitempty"`
	Model                string   `json:"model,omitempty"`
	LastVerified         string   `json:"last_verified,omitempty"`
	VerificationStatus   string   `json:"verification_status,omitempty"`
	VerificationFailures []string `json:"verification_failures,omitempty"`
	ReplayedAt           string   `json:"replayed_at,omitempty"`
	ReplayCount          int      `json:"replay_count,omitempty"`
	OriginalCompletedAt  string   `json:"original_completed_at,omitempty"`
	Body                 string   `json:"body,omitempty"`

	Extra []ExtraField `json:"-"`
}

// Title returns the text of the first markdown heading in the body.
func (s *Spec) Title() string {
	for _, line := range strings.Split(s.Body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}

// Clone returns a deep copy so callers can mutate without aliasing slices.
func (s *Spec) Clone() *Spec {
	out := *s
	out.DependsOn = cloneStrings(s.DependsOn)
	out.TargetFiles = cloneStrings(s.TargetFiles)
	out.Labels = cloneStrings(s.Labels)
	out.Context = cloneStrings(s.Context)
	out.Commits = cloneStrings(s.Commits)
	out.VerificationFailures = cloneStrings(s.VerificationFailures)
	if s.Extra != nil {
		out.Extra = make([]ExtraField, len(s.Extra))
		copy(out.Extra, s.Extra)
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Event is one journal row.
type Event struct {
	Seq     int64  `json:"seq"`
	ID      string `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	SpecID  string `json:"spec_id,omitempty"`
	Actor   string `json:"actor"`
	Payload string `json:"payload_json"`
}
