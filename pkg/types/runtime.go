package types

import "time"

// StageResult records the terminal result of one stage within a run.
type StageResult struct {
	Stage        string     `json:"stage"`
	Outcome      Outcome    `json:"outcome"`
	Advisory     bool       `json:"advisory,omitempty"`
	Message      string     `json:"message,omitempty"`
	ArtifactPath string     `json:"artifactPath,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// PipelineRun represents one execution instance of a pipeline.
type PipelineRun struct {
	RunID       string        `json:"runId"`
	Pipeline    string        `json:"pipeline"`
	BuildNumber int           `json:"buildNumber"`
	Branch      string        `json:"branch"`
	Commit      string        `json:"commit,omitempty"`
	Status      RunStatus     `json:"status"`
	Results     []StageResult `json:"results,omitempty"`
	Approver    string        `json:"approver,omitempty"`
	Version     int           `json:"version"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// Duration returns elapsed wall time for the run, using CompletedAt when the
// run is finished and now otherwise.
func (r PipelineRun) Duration(now time.Time) time.Duration {
	end := now
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.CreatedAt)
}

// TriggerEvent is a source-control push or poll event that instantiates a run.
type TriggerEvent struct {
	Pipeline string `json:"pipeline,omitempty"`
	Branch   string `json:"branch"`
	Commit   string `json:"commit,omitempty"`
	Source   string `json:"source,omitempty"` // "push" or "poll"
}

// PendingApproval is a persisted approval wait attached to a suspended run.
type PendingApproval struct {
	ApprovalID  string           `json:"approvalId"`
	RunID       string           `json:"runId"`
	Stage       string           `json:"stage"`
	Message     string           `json:"message"`
	Decision    ApprovalDecision `json:"decision,omitempty"` // empty while pending
	Actor       string           `json:"actor,omitempty"`
	RequestedAt time.Time        `json:"requestedAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	ResolvedAt  *time.Time       `json:"resolvedAt,omitempty"`
}

// Pending reports whether the approval has not yet been resolved.
func (p PendingApproval) Pending() bool { return p.Decision == "" }

// Event is an append-only audit log entry recording what happened and when.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Pipeline  string                 `json:"pipeline,omitempty"`
	RunID     string                 `json:"runId,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// RunContext is the immutable snapshot handed to gating predicates and stage
// bodies. Prior outcomes are copied at snapshot time: a stage can never
// observe results from siblings still in flight, nor mutate what was already
// recorded.
type RunContext struct {
	RunID       string
	Pipeline    string
	BuildNumber int
	Branch      string
	Commit      string
	StartedAt   time.Time
	prior       map[string]StageResult
}

// NewRunContext builds a snapshot of the run plus every stage result recorded
// strictly before the current sequence position.
func NewRunContext(run PipelineRun, recorded []StageResult) RunContext {
	prior := make(map[string]StageResult, len(recorded))
	for _, r := range recorded {
		prior[r.Stage] = r
	}
	return RunContext{
		RunID:       run.RunID,
		Pipeline:    run.Pipeline,
		BuildNumber: run.BuildNumber,
		Branch:      run.Branch,
		Commit:      run.Commit,
		StartedAt:   run.CreatedAt,
		prior:       prior,
	}
}

// PriorOutcome returns the recorded outcome for a named stage, if any.
func (c RunContext) PriorOutcome(stage string) (StageResult, bool) {
	r, ok := c.prior[stage]
	return r, ok
}

// Aggregate folds the prior stage outcomes into a single result. Advisory
// failures count as UNSTABLE; skipped stages contribute nothing.
func (c RunContext) Aggregate() Outcome {
	outcomes := make([]Outcome, 0, len(c.prior))
	for _, r := range c.prior {
		outcomes = append(outcomes, EffectiveOutcome(r))
	}
	return WorstOutcome(outcomes...)
}

// EffectiveOutcome maps a stage result onto the severity scale used for
// aggregation: an advisory failure demotes to UNSTABLE.
func EffectiveOutcome(r StageResult) Outcome {
	if r.Advisory && r.Outcome == OutcomeFailure {
		return OutcomeUnstable
	}
	return r.Outcome
}
