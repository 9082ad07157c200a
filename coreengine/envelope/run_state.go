package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
)

// =============================================================================
// Log Entries
// =============================================================================

// Transition is one entry of the run's audit log. Every stage attempt
// appends exactly one entry.
type Transition struct {
	Seq       int            `json:"seq"`
	Stage     string         `json:"stage"`
	Attempt   int            `json:"attempt"`
	State     kernel.Status  `json:"state"`
	Next      kernel.Status  `json:"next"`
	Outcome   AttemptOutcome `json:"outcome"`
	ErrorKind errs.Kind      `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	At        time.Time      `json:"at"`
	Duration  time.Duration  `json:"duration_ns"`
}

// PostTerminalEvent records work done after the run terminated.
// It never alters the terminal status.
type PostTerminalEvent struct {
	Kind      PostTerminalKind `json:"kind"`
	Target    string           `json:"target,omitempty"`
	Succeeded bool             `json:"succeeded"`
	Error     string           `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}

// =============================================================================
// RunState
// =============================================================================

// RunState is the state of one workflow run.
//
// It is owned by the engine goroutine driving the run and must not be
// mutated concurrently. Read accessors return copies.
type RunState struct {
	runID   string
	request domain.ProcurementRequest

	classification *domain.ClassificationResult
	document       *domain.RFPDocument
	approval       *domain.ApprovalResult

	status       kernel.Status
	log          []Transition
	cause        *errs.StageError
	postTerminal []PostTerminalEvent

	startedAt   time.Time
	completedAt time.Time
}

// New creates a Pending run holding its own copy of req.
func New(runID string, req domain.ProcurementRequest, startedAt time.Time) *RunState {
	return &RunState{
		runID:     runID,
		request:   req.Clone(),
		status:    kernel.StatusPending,
		startedAt: startedAt,
	}
}

// RunID returns the run identifier.
func (s *RunState) RunID() string { return s.runID }

// Request returns a copy of the run's request.
func (s *RunState) Request() domain.ProcurementRequest { return s.request.Clone() }

// Status returns the current state.
func (s *RunState) Status() kernel.Status { return s.status }

// IsTerminal reports whether the run has finished.
func (s *RunState) IsTerminal() bool { return s.status.IsTerminal() }

// Cause returns the error that moved the run to Failed, if any.
func (s *RunState) Cause() *errs.StageError { return s.cause }

// StartedAt returns when the run was created.
func (s *RunState) StartedAt() time.Time { return s.startedAt }

// CompletedAt returns when the run terminated, or the zero time.
func (s *RunState) CompletedAt() time.Time { return s.completedAt }

// Classification returns the classification output if present.
func (s *RunState) Classification() (domain.ClassificationResult, bool) {
	if s.classification == nil {
		return domain.ClassificationResult{}, false
	}
	return *s.classification, true
}

// Document returns a copy of the generated document if present.
func (s *RunState) Document() (domain.RFPDocument, bool) {
	if s.document == nil {
		return domain.RFPDocument{}, false
	}
	return s.document.Clone(), true
}

// Approval returns a copy of the approval result if present.
func (s *RunState) Approval() (domain.ApprovalResult, bool) {
	if s.approval == nil {
		return domain.ApprovalResult{}, false
	}
	return s.approval.Clone(), true
}

// Log returns a copy of the transition log.
func (s *RunState) Log() []Transition {
	return append([]Transition(nil), s.log...)
}

// PostTerminal returns a copy of the post-terminal events.
func (s *RunState) PostTerminal() []PostTerminalEvent {
	return append([]PostTerminalEvent(nil), s.postTerminal...)
}

// =============================================================================
// Mutation (engine only)
// =============================================================================

// Merge stores a stage output in its slot.
// Filling a slot twice fails with DuplicateStageOutput.
func (s *RunState) Merge(output any) error {
	if s.IsTerminal() {
		return errs.New(errs.KindInternal, "merge into terminal run %s", s.runID)
	}
	switch out := output.(type) {
	case domain.ClassificationResult:
		if s.classification != nil {
			return errs.New(errs.KindDuplicateStageOutput, "classification already recorded")
		}
		s.classification = &out
	case domain.RFPDocument:
		if s.document != nil {
			return errs.New(errs.KindDuplicateStageOutput, "document already recorded")
		}
		doc := out.Clone()
		s.document = &doc
	case domain.ApprovalResult:
		if s.approval != nil {
			return errs.New(errs.KindDuplicateStageOutput, "approval already recorded")
		}
		res := out.Clone()
		s.approval = &res
	default:
		return errs.New(errs.KindInternal, "no slot for output of type %T", output)
	}
	return nil
}

// Advance moves the run to a non-terminal state.
func (s *RunState) Advance(to kernel.Status) error {
	if to.IsTerminal() {
		return errs.New(errs.KindInternal, "use Terminate to enter %s", to)
	}
	if err := kernel.CheckTransition(s.status, to); err != nil {
		return errs.Wrap(errs.KindInternal, err, "advance")
	}
	s.status = to
	return nil
}

// Terminate moves the run to a terminal state. cause is recorded for Failed runs.
func (s *RunState) Terminate(to kernel.Status, cause *errs.StageError, at time.Time) error {
	if !to.IsTerminal() {
		return errs.New(errs.KindInternal, "%s is not terminal", to)
	}
	if err := kernel.CheckTransition(s.status, to); err != nil {
		return errs.Wrap(errs.KindInternal, err, "terminate")
	}
	s.status = to
	s.cause = cause
	if at.Before(s.lastTimestamp()) {
		at = s.lastTimestamp()
	}
	s.completedAt = at
	return nil
}

// AppendTransition adds an entry to the log. Seq is assigned here and At is
// clamped so timestamps never decrease.
func (s *RunState) AppendTransition(t Transition) Transition {
	t.Seq = len(s.log) + 1
	if last := s.lastTimestamp(); t.At.Before(last) {
		t.At = last
	}
	s.log = append(s.log, t)
	return t
}

// RecordPostTerminal appends a post-terminal event. The run must be terminal.
func (s *RunState) RecordPostTerminal(ev PostTerminalEvent) error {
	if !s.IsTerminal() {
		return fmt.Errorf("run %s is not terminal (status %s)", s.runID, s.status)
	}
	s.postTerminal = append(s.postTerminal, ev)
	return nil
}

func (s *RunState) lastTimestamp() time.Time {
	if n := len(s.log); n > 0 {
		return s.log[n-1].At
	}
	return s.startedAt
}

// =============================================================================
// View
// =============================================================================

// View is the read-only input handed to a stage. It is a copy taken when the
// attempt starts, so a stage that outlives its timeout cannot observe later
// changes to the run.
type View struct {
	RunID          string
	Request        domain.ProcurementRequest
	Classification *domain.ClassificationResult
	Document       *domain.RFPDocument
}

// View returns a stage view of the run.
func (s *RunState) View() View {
	v := View{RunID: s.runID, Request: s.request.Clone()}
	if s.classification != nil {
		c := *s.classification
		v.Classification = &c
	}
	if s.document != nil {
		d := s.document.Clone()
		v.Document = &d
	}
	return v
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is a serializable copy of a RunState for presentation and audit.
type Snapshot struct {
	RunID          string                       `json:"run_id"`
	Status         kernel.Status                `json:"status"`
	Request        domain.ProcurementRequest    `json:"request"`
	Classification *domain.ClassificationResult `json:"classification,omitempty"`
	Document       *domain.RFPDocument          `json:"document,omitempty"`
	Approval       *domain.ApprovalResult       `json:"approval,omitempty"`
	Log            []Transition                 `json:"log"`
	Cause          *CauseSnapshot               `json:"cause,omitempty"`
	PostTerminal   []PostTerminalEvent          `json:"post_terminal,omitempty"`
	StartedAt      time.Time                    `json:"started_at"`
	CompletedAt    *time.Time                   `json:"completed_at,omitempty"`
}

// CauseSnapshot is the serializable form of a *errs.StageError.
type CauseSnapshot struct {
	Kind    errs.Kind `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
}

// Snapshot returns a deep copy of the run.
func (s *RunState) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:        s.runID,
		Status:       s.status,
		Request:      s.request.Clone(),
		Log:          s.Log(),
		PostTerminal: s.PostTerminal(),
		StartedAt:    s.startedAt,
	}
	if c, ok := s.Classification(); ok {
		snap.Classification = &c
	}
	if d, ok := s.Document(); ok {
		snap.Document = &d
	}
	if a, ok := s.Approval(); ok {
		snap.Approval = &a
	}
	if s.cause != nil {
		snap.Cause = &CauseSnapshot{Kind: s.cause.Kind, Stage: s.cause.Stage, Message: s.cause.Error()}
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// MarshalJSON encodes the run as its Snapshot.
func (s *RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// ToStateDict returns the snapshot as a generic map, suitable for structpb.
func (s *RunState) ToStateDict() (map[string]any, error) {
	raw, err := json.Marshal(s.Snapshot())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
