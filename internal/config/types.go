package config

// Policy decides what the receiver does with a verified event from a source.
type Policy string

const (
	// PolicyLogOnly records and acknowledges events without triggering CI.
	// Used while collecting traffic from a source before deciding which
	// event types matter.
	PolicyLogOnly Policy = "log_only"

	// PolicyDispatch triggers a workflow run for every verified event.
	PolicyDispatch Policy = "dispatch"
)

// Config is the root configuration for the gateway.
type Config struct {
	// Listen is the HTTP listen address (e.g., "127.0.0.1:8080").
	Listen string `yaml:"listen"`

	// Stage tags the deployment environment (dev, staging, prod).
	Stage string `yaml:"stage"`

	// LogLevel sets the slog level (DEBUG, INFO, WARN, ERROR).
	LogLevel string `yaml:"log_level"`

	Audit    AuditConfig    `yaml:"audit"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Sources  []SourceConfig `yaml:"sources"`
}

// AuditConfig configures the SQLite-backed audit store.
type AuditConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`

	// RetentionDays is the TTL applied to every audit record.
	RetentionDays int `yaml:"retention_days"`

	// MaxBodyBytes caps how much of the raw request body is stored.
	MaxBodyBytes int `yaml:"max_body_bytes"`
}

// DispatchConfig configures the GitHub workflow_dispatch target.
type DispatchConfig struct {
	// Repository is the target in "owner/name" form.
	Repository string `yaml:"repository"`

	// Workflow is the workflow file name (e.g., "rebuild.yml").
	Workflow string `yaml:"workflow"`

	// Ref is the git ref the workflow runs against.
	Ref string `yaml:"ref"`

	// Token is the GitHub token; usually "${GITHUB_DISPATCH_TOKEN}".
	Token string `yaml:"token"`
}

// SourceConfig defines one recognized webhook source.
type SourceConfig struct {
	// Tag is the source identifier used in the URL path (/webhook/{tag}).
	Tag string `yaml:"tag"`

	// Policy is log_only or dispatch.
	Policy Policy `yaml:"policy"`

	// Secret is the per-source webhook secret, if the source signs requests.
	Secret string `yaml:"secret,omitempty"`
}

// Default values
const (
	DefaultListen        = "127.0.0.1:8080"
	DefaultStage         = "dev"
	DefaultLogLevel      = "INFO"
	DefaultAuditPath     = "hookgate.db"
	DefaultRetentionDays = 30
	DefaultMaxBodyBytes  = 64 * 1024
	DefaultDispatchRef   = "main"
	DefaultWorkflowFile  = "rebuild.yml"
)
