package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
// ${VAR} references are expanded from the environment before parsing,
// so secrets never need to live in the file itself.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables expand to the empty string; validation catches the
// cases where that matters (e.g., a source that requires a secret).
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Stage == "" {
		cfg.Stage = DefaultStage
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = DefaultRetentionDays
	}
	if cfg.Audit.MaxBodyBytes == 0 {
		cfg.Audit.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Dispatch.Ref == "" {
		cfg.Dispatch.Ref = DefaultDispatchRef
	}
	if cfg.Dispatch.Workflow == "" {
		cfg.Dispatch.Workflow = DefaultWorkflowFile
	}
	for i := range cfg.Sources {
		cfg.Sources[i].Tag = strings.ToLower(cfg.Sources[i].Tag)
		if cfg.Sources[i].Policy == "" {
			cfg.Sources[i].Policy = PolicyLogOnly
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("no webhook sources configured")
	}

	seen := make(map[string]bool)
	for _, src := range cfg.Sources {
		if !KnownSource(src.Tag) {
			return fmt.Errorf("source %q is not a recognized tag", src.Tag)
		}
		if seen[src.Tag] {
			return fmt.Errorf("source %q configured more than once", src.Tag)
		}
		seen[src.Tag] = true

		switch src.Policy {
		case PolicyLogOnly, PolicyDispatch:
		default:
			return fmt.Errorf("source %q: unknown policy %q (want %q or %q)",
				src.Tag, src.Policy, PolicyLogOnly, PolicyDispatch)
		}

		// Cloudflare signs its deliveries; a missing secret there is an
		// operator misconfiguration we can catch at startup.
		if src.Tag == SourceCloudflare && src.Secret == "" {
			return fmt.Errorf("source %q: secret is required", src.Tag)
		}
	}

	if cfg.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must not be negative")
	}
	if cfg.Audit.MaxBodyBytes < 0 {
		return fmt.Errorf("audit.max_body_bytes must not be negative")
	}

	return nil
}

// SourceByTag returns the configuration for a source tag, or nil.
func (c *Config) SourceByTag(tag string) *SourceConfig {
	tag = strings.ToLower(tag)
	for i := range c.Sources {
		if c.Sources[i].Tag == tag {
			return &c.Sources[i]
		}
	}
	return nil
}
