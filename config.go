package main

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigDir = ".news-classifier"

//go:embed config/settings.yaml
var defaultSettings string

//go:embed config/classifier-system-prompt.md
var defaultSystemPrompt string

//go:embed config/classifier-user-prompt.md
var defaultUserPrompt string

//go:embed config/classification-schema.json
var defaultSchema string

// ColumnSettings names the input dataset columns
type ColumnSettings struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	Body       string `yaml:"body"`
	Tags       string `yaml:"tags"`
	Categories string `yaml:"categories"`
}

// ClassifierSettings holds the fixed request parameters
type ClassifierSettings struct {
	Model            string  `yaml:"model"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
	StructuredOutput bool    `yaml:"structured_output"`
}

// Settings represents the YAML configuration structure
type Settings struct {
	InputFile          string             `yaml:"input_file"`
	OutputFile         string             `yaml:"output_file"`
	NeighborhoodsFile  string             `yaml:"neighborhoods_file"`
	CheckpointFile     string             `yaml:"checkpoint_file"`
	CheckpointInterval int                `yaml:"checkpoint_interval"`
	PacingDelay        time.Duration      `yaml:"pacing_delay"`
	RequestTimeout     time.Duration      `yaml:"request_timeout"`
	MaxRetries         int                `yaml:"max_retries"`
	RetryDelay         time.Duration      `yaml:"retry_delay"`
	BodyMaxChars       int                `yaml:"body_max_chars"`
	RationaleMaxChars  int                `yaml:"rationale_max_chars"`
	IgnorePhrases      []string           `yaml:"ignore_phrases"`
	Columns            ColumnSettings     `yaml:"columns"`
	Classifier         ClassifierSettings `yaml:"classifier"`
}

// ConfigOverrides holds command-line overrides of the settings file.
// Nil fields keep the configured value.
type ConfigOverrides struct {
	SettingsPath       *string
	InputFile          *string
	OutputFile         *string
	NeighborhoodsFile  *string
	CheckpointFile     *string
	SystemPromptPath   *string
	CheckpointInterval *int
	PacingDelay        *time.Duration
	RequestTimeout     *time.Duration
	MaxRetries         *int
}

// Config holds settings, overrides and the resolved prompts
type Config struct {
	Settings  *Settings
	Overrides *ConfigOverrides
}

// NewConfig loads settings and applies overrides
func NewConfig(overrides *ConfigOverrides) (*Config, error) {
	var settings *Settings
	var err error

	if overrides != nil && overrides.SettingsPath != nil {
		settings, err = loadSettingsRequired(*overrides.SettingsPath)
	} else {
		if err := ensureConfigExists(); err != nil {
			return nil, fmt.Errorf("ensuring config files exist: %w", err)
		}
		settings, err = loadSettings(GetConfigPath("settings.yaml"))
	}
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	settings.apply(overrides)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return &Config{Settings: settings, Overrides: overrides}, nil
}

// GetConfigPath returns the full path to a config file
func GetConfigPath(filename string) string {
	return filepath.Join(defaultConfigDir, filename)
}

// GetSystemPrompt returns the system prompt template (from override file or embedded)
func (c *Config) GetSystemPrompt() (string, error) {
	if c.Overrides != nil && c.Overrides.SystemPromptPath != nil {
		content, err := os.ReadFile(*c.Overrides.SystemPromptPath)
		if err != nil {
			return "", fmt.Errorf("reading system prompt %s: %w", *c.Overrides.SystemPromptPath, err)
		}
		return string(content), nil
	}
	return defaultSystemPrompt, nil
}

// GetUserPrompt returns the user prompt template (embedded only for now)
func (c *Config) GetUserPrompt() string {
	return defaultUserPrompt
}

// GetSchema returns the structured output schema, or "" when disabled
func (c *Config) GetSchema() string {
	if !c.Settings.Classifier.StructuredOutput {
		return ""
	}
	return defaultSchema
}

// CheckpointPath returns the configured checkpoint file or one derived from the output file
func (s *Settings) CheckpointPath() string {
	if s.CheckpointFile != "" {
		return s.CheckpointFile
	}
	return s.OutputFile + ".checkpoint.json"
}

func (s *Settings) apply(o *ConfigOverrides) {
	if o == nil {
		return
	}
	if o.InputFile != nil {
		s.InputFile = *o.InputFile
	}
	if o.OutputFile != nil {
		s.OutputFile = *o.OutputFile
	}
	if o.NeighborhoodsFile != nil {
		s.NeighborhoodsFile = *o.NeighborhoodsFile
	}
	if o.CheckpointFile != nil {
		s.CheckpointFile = *o.CheckpointFile
	}
	if o.CheckpointInterval != nil {
		s.CheckpointInterval = *o.CheckpointInterval
	}
	if o.PacingDelay != nil {
		s.PacingDelay = *o.PacingDelay
	}
	if o.RequestTimeout != nil {
		s.RequestTimeout = *o.RequestTimeout
	}
	if o.MaxRetries != nil {
		s.MaxRetries = *o.MaxRetries
	}
}

// Validate checks settings ranges
func (s *Settings) Validate() error {
	switch {
	case s.InputFile == "":
		return fmt.Errorf("input_file is required")
	case s.OutputFile == "":
		return fmt.Errorf("output_file is required")
	case s.CheckpointInterval < 1:
		return fmt.Errorf("checkpoint_interval must be at least 1, got %d", s.CheckpointInterval)
	case s.MaxRetries < 1:
		return fmt.Errorf("max_retries must be at least 1, got %d", s.MaxRetries)
	case s.PacingDelay < 0 || s.RetryDelay < 0:
		return fmt.Errorf("delays must not be negative")
	case s.RequestTimeout <= 0:
		return fmt.Errorf("request_timeout must be positive")
	case s.BodyMaxChars < 0 || s.RationaleMaxChars < 0:
		return fmt.Errorf("length limits must not be negative")
	case s.Columns.ID == "" || s.Columns.Title == "" || s.Columns.Body == "":
		return fmt.Errorf("columns.id, columns.title and columns.body are required")
	case s.Classifier.Model == "":
		return fmt.Errorf("classifier.model is required")
	case s.Classifier.MaxTokens <= 0:
		return fmt.Errorf("classifier.max_tokens must be positive")
	case s.Classifier.Temperature < 0 || s.Classifier.Temperature > 1:
		return fmt.Errorf("classifier.temperature must be within [0, 1], got %v", s.Classifier.Temperature)
	}
	return nil
}

// parseDefaultSettings returns the embedded defaults
func parseDefaultSettings() (*Settings, error) {
	var settings Settings
	if err := yaml.Unmarshal([]byte(defaultSettings), &settings); err != nil {
		return nil, fmt.Errorf("parsing embedded settings: %w", err)
	}
	return &settings, nil
}

// loadSettings loads settings from a YAML file layered over the embedded defaults,
// falling back to the defaults if the file doesn't exist
func loadSettings(settingsPath string) (*Settings, error) {
	settings, err := parseDefaultSettings()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(settingsPath)
	if os.IsNotExist(err) {
		log.Printf("Settings file %s not found, using defaults", settingsPath)
		return settings, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", settingsPath, err)
	}
	return settings, nil
}

// loadSettingsRequired loads settings from a YAML file, failing if the file doesn't exist
func loadSettingsRequired(settingsPath string) (*Settings, error) {
	if _, err := os.Stat(settingsPath); err != nil {
		return nil, err
	}
	return loadSettings(settingsPath)
}

// ensureConfigExists creates the config directory and writes settings.yaml if needed
func ensureConfigExists() error {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	settingsFile := GetConfigPath("settings.yaml")
	if _, err := os.Stat(settingsFile); os.IsNotExist(err) {
		if err := os.WriteFile(settingsFile, []byte(defaultSettings), 0644); err != nil {
			return fmt.Errorf("writing settings.yaml: %w", err)
		}
	}

	return nil
}
