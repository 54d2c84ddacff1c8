package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ttcal/internal/model"
	"ttcal/internal/term"
)

const dateLayout = "2006-01-02"

// ExclusionConfig is a half-term or holiday inside a term.
type ExclusionConfig struct {
	Name  string `yaml:"name" json:"name"`
	Start string `yaml:"start" json:"start" validate:"required,datetime=2006-01-02"`
	End   string `yaml:"end" json:"end" validate:"required,datetime=2006-01-02"`
}

// TermConfig describes one teaching term.
type TermConfig struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Start      string            `yaml:"start" json:"start" validate:"required,datetime=2006-01-02"`
	End        string            `yaml:"end" json:"end" validate:"required,datetime=2006-01-02"`
	Exclusions []ExclusionConfig `yaml:"exclusions" json:"exclusions" validate:"dive"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the feed server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// PublishConfig selects where built feeds are pushed after they are written
// to OutputDir. Secrets are normally supplied through the environment.
type PublishConfig struct {
	// Backend is one of "none", "dir" or "s3".
	Backend string `yaml:"backend" json:"backend" env:"TTCAL_PUBLISH_BACKEND" validate:"oneof=none dir s3"`

	// Dir is the target directory for the "dir" backend.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" validate:"required_if=Backend dir"`

	// S3-compatible bucket settings (Cloudflare R2, MinIO, AWS).
	Bucket          string `yaml:"bucket,omitempty" json:"bucket,omitempty" env:"R2_BUCKET" validate:"required_if=Backend s3"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" env:"R2_ENDPOINT" validate:"omitempty,url"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty" env:"R2_REGION"`
	Prefix          string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"-" env:"R2_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"-" env:"R2_SECRET_ACCESS_KEY"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the feed server.
	Listen string `yaml:"listen" json:"listen" env:"TTCAL_LISTEN"`

	// Timezone is the IANA zone lesson times are expressed in.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	// CalendarName is published as the feed's display name; "{user}" is
	// replaced with the user name.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// AnchorMonday is the Monday of a Week A. Parity of every other week is
	// counted from it.
	AnchorMonday string `yaml:"anchor_monday" json:"anchor_monday" validate:"required,datetime=2006-01-02"`

	// Terms lists the teaching terms of the academic year.
	Terms []TermConfig `yaml:"terms" json:"terms" validate:"required,min=1,dive"`

	// InputDir holds one timetable per user: <input_dir>/<user>.json.
	InputDir string `yaml:"input_dir" json:"input_dir" validate:"required"`

	// OutputDir receives the generated feeds: <output_dir>/<user>.ics.
	OutputDir string `yaml:"output_dir" json:"output_dir" validate:"required"`

	// SkipMarkers drops timetable rows whose lesson name contains a marker.
	SkipMarkers []string `yaml:"skip_markers" json:"skip_markers"`

	// RefreshCron is a cron-style schedule string (e.g. "0 5 * * *") for
	// periodic rebuilds in serve mode. Empty disables scheduling.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Concurrency bounds parallel per-user builds.
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"gte=0"`

	LogLevel  string `yaml:"log_level" json:"log_level" env:"TTCAL_LOG_LEVEL" validate:"oneof=debug info error"`
	LogFormat string `yaml:"log_format" json:"log_format" validate:"oneof=text json"`

	Publish PublishConfig `yaml:"publish" json:"publish"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "Europe/London",
		CalendarName: "{user} timetable",
		AnchorMonday: "2025-09-01",
		Terms: []TermConfig{
			{
				Name:  "autumn",
				Start: "2025-09-04",
				End:   "2025-12-16",
				Exclusions: []ExclusionConfig{
					{Name: "half-term", Start: "2025-10-20", End: "2025-10-31"},
				},
			},
		},
		InputDir:    "./json",
		OutputDir:   "./ics",
		SkipMarkers: []string{"IGNORE"},
		RefreshCron: "0 5 * * *",
		Concurrency: 4,
		LogLevel:    "info",
		LogFormat:   "text",
		Publish:     PublishConfig{Backend: "none"},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/London"
	}
	if c.CalendarName == "" {
		c.CalendarName = "{user} timetable"
	}
	if c.InputDir == "" {
		c.InputDir = "./json"
	}
	if c.OutputDir == "" {
		c.OutputDir = "./ics"
	}
	if c.SkipMarkers == nil {
		c.SkipMarkers = []string{"IGNORE"}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Publish.Backend == "" {
		c.Publish.Backend = "none"
	}
	if c.Publish.Backend == "s3" && c.Publish.Region == "" {
		c.Publish.Region = "auto"
	}
}

var validate = validator.New()

// Validate checks field-level constraints. Term semantics (bounds, overlaps,
// anchor weekday) are checked by AcademicYear.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// AcademicYear converts the configured terms into validated term windows.
func (c *Config) AcademicYear() (*term.AcademicYear, error) {
	anchor, err := parseDate("anchor_monday", c.AnchorMonday)
	if err != nil {
		return nil, err
	}

	windows := make([]*term.TermWindow, 0, len(c.Terms))
	for _, tc := range c.Terms {
		start, err := parseDate(tc.Name+".start", tc.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseDate(tc.Name+".end", tc.End)
		if err != nil {
			return nil, err
		}
		exclusions := make([]term.ExclusionRange, 0, len(tc.Exclusions))
		for _, ec := range tc.Exclusions {
			es, err := parseDate(tc.Name+"."+ec.Name+".start", ec.Start)
			if err != nil {
				return nil, err
			}
			ee, err := parseDate(tc.Name+"."+ec.Name+".end", ec.End)
			if err != nil {
				return nil, err
			}
			exclusions = append(exclusions, term.ExclusionRange{Name: ec.Name, Start: es, End: ee})
		}

		w, err := term.NewTermWindow(tc.Name, start, end, anchor, exclusions)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return term.NewAcademicYear(windows...)
}

func parseDate(field, v string) (model.Date, error) {
	d, err := model.ParseDate(v)
	if err != nil {
		return model.Date{}, &term.ConfigurationError{Reason: fmt.Sprintf("%s: expected %s, got %q", field, dateLayout, v)}
	}
	return d, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - In both cases environment overrides are applied last, then the
//     result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, applyEnv(cfg)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto cfg. Unset variables leave
// the file values untouched.
func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if err := env.Parse(&cfg.Publish); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	cfg.Normalize()
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600, 0o700)
}

// WriteFileAtomic writes data to a temp file in path's directory and renames
// it over path, so readers never observe a partial file. Missing parent
// directories are created with dirPerm.
func WriteFileAtomic(path string, data []byte, perm, dirPerm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ttcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
