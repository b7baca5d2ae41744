package types

import "time"

// StageSpec declares a named unit of pipeline work and its gating rules.
type StageSpec struct {
	Name string `yaml:"name" json:"name"`

	// Branches restricts execution to the listed branches. Empty means the
	// stage runs on every branch.
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`

	// RequireNotFailed skips the stage when the aggregate of prior recorded
	// outcomes is FAILURE. An unset aggregate passes.
	RequireNotFailed bool `yaml:"requireNotFailed,omitempty" json:"requireNotFailed,omitempty"`

	// Advisory marks tool failures in this stage as non-fatal: the outcome is
	// recorded but the run continues.
	Advisory bool `yaml:"advisory,omitempty" json:"advisory,omitempty"`

	// AlwaysRun stages (cleanup) execute even after an earlier abort.
	AlwaysRun bool `yaml:"alwaysRun,omitempty" json:"alwaysRun,omitempty"`

	// Approval suspends the run awaiting an external decision before the
	// stage body executes.
	Approval *ApprovalSpec `yaml:"approval,omitempty" json:"approval,omitempty"`

	// Parallel sub-stages all start concurrently and all must reach a
	// terminal state before the parent stage is considered done.
	Parallel []StageSpec `yaml:"parallel,omitempty" json:"parallel,omitempty"`

	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	WorkDir string            `yaml:"workDir,omitempty" json:"workDir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// SmokeURL, when set, is probed with an HTTP GET after the command
	// succeeds (build smoke test, integration check).
	SmokeURL string `yaml:"smokeUrl,omitempty" json:"smokeUrl,omitempty"`

	// ArtifactPath records where the stage leaves its report artifact, if
	// any. Content format is opaque to the orchestrator.
	ArtifactPath string `yaml:"artifactPath,omitempty" json:"artifactPath,omitempty"`

	// TimeoutSeconds bounds the stage body. Zero means the default.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// ApprovalSpec configures a manual approval checkpoint.
type ApprovalSpec struct {
	Message        string `yaml:"message,omitempty" json:"message,omitempty"`
	TimeoutMinutes int    `yaml:"timeoutMinutes,omitempty" json:"timeoutMinutes,omitempty"`
}

// Timeout returns the approval wait bound, defaulting when unset.
func (a ApprovalSpec) Timeout() time.Duration {
	if a.TimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(a.TimeoutMinutes) * time.Minute
}

// NotifierConfig declares a single notification sink.
type NotifierConfig struct {
	Type     NotifierType `yaml:"type" json:"type"`
	URL      string       `yaml:"url,omitempty" json:"url,omitempty"`
	Path     string       `yaml:"path,omitempty" json:"path,omitempty"`
	TopicARN string       `yaml:"topicArn,omitempty" json:"topicArn,omitempty"`
}

// ArchiveConfig configures background archival of terminal runs.
type ArchiveConfig struct {
	Path            string `yaml:"path,omitempty" json:"path,omitempty"`
	RetentionHours  int    `yaml:"retentionHours,omitempty" json:"retentionHours,omitempty"`
	IntervalMinutes int    `yaml:"intervalMinutes,omitempty" json:"intervalMinutes,omitempty"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`

	// APIKey, when set, is required in the X-API-Key header on every
	// request except the health check.
	APIKey string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
}

// ProjectConfig is the parsed conveyor.yaml.
type ProjectConfig struct {
	Store        string           `yaml:"store" json:"store"` // "memory" or "dynamodb"
	DynamoDB     interface{}      `yaml:"-" json:"-"`         // decoded by internal/config
	PipelineFile string           `yaml:"pipelineFile,omitempty" json:"pipelineFile,omitempty"`
	LogURLBase   string           `yaml:"logUrlBase,omitempty" json:"logUrlBase,omitempty"`
	Recipients   []string         `yaml:"recipients,omitempty" json:"recipients,omitempty"`
	Notifiers    []NotifierConfig `yaml:"notifiers,omitempty" json:"notifiers,omitempty"`
	Archive      *ArchiveConfig   `yaml:"archive,omitempty" json:"archive,omitempty"`
	Server       *ServerConfig    `yaml:"server,omitempty" json:"server,omitempty"`
}
