package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

const (
	// SettingsDir is the project subdirectory holding tool configuration.
	SettingsDir = ".mage"
	// SettingsFile is the settings document inside SettingsDir.
	SettingsFile = "config.yaml"

	defaultConcurrency = 4
	defaultGracePeriod = 10 * time.Second
	defaultLogLevel    = "info"
	defaultHistoryDB   = "history.db"
)

var defaultInterpreter = []string{"python3"}

// Settings are the project-level execution knobs. Every field has a
// working default; the settings file and environment only override.
type Settings struct {
	// Concurrency bounds how many blocks run at the same time.
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=64"`
	// Interpreter is the argv prefix used to start a block's execution
	// context; the block source path is appended.
	Interpreter []string `yaml:"interpreter" validate:"min=1,dive,required"`
	// GracePeriod is how long an interrupted block may keep running
	// before it is force-terminated.
	GracePeriod time.Duration `yaml:"-"`
	// LogLevel is the minimum level written to the log.
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	// HistoryDB is the run-history database path, relative to the
	// settings directory unless absolute.
	HistoryDB string `yaml:"history_db" validate:"required"`
}

// settingsDoc is the on-disk shape. Durations are authored as strings.
type settingsDoc struct {
	Concurrency int      `yaml:"concurrency,omitempty"`
	Interpreter []string `yaml:"interpreter,omitempty"`
	GracePeriod string   `yaml:"grace_period,omitempty"`
	LogLevel    string   `yaml:"log_level,omitempty"`
	HistoryDB   string   `yaml:"history_db,omitempty"`
}

// Defaults returns the settings used when no file exists.
func Defaults() Settings {
	return Settings{
		Concurrency: defaultConcurrency,
		Interpreter: append([]string(nil), defaultInterpreter...),
		GracePeriod: defaultGracePeriod,
		LogLevel:    defaultLogLevel,
		HistoryDB:   defaultHistoryDB,
	}
}

// Path returns the settings file location for a project.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, SettingsDir, SettingsFile)
}

// Load reads the project settings, layering file values and then
// environment overrides on top of the defaults. A missing file is not
// an error.
func Load(projectRoot string) (Settings, error) {
	s := Defaults()

	path := Path(projectRoot)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Settings{}, streamerrors.NewParseError(path, 0, err)
	default:
		var doc settingsDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Settings{}, streamerrors.NewParseError(path, 0, err)
		}
		if err := s.apply(doc); err != nil {
			return Settings{}, err
		}
	}

	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}

	if !filepath.IsAbs(s.HistoryDB) {
		s.HistoryDB = filepath.Join(projectRoot, SettingsDir, s.HistoryDB)
	}
	return s, nil
}

func (s *Settings) apply(doc settingsDoc) error {
	if doc.Concurrency != 0 {
		s.Concurrency = doc.Concurrency
	}
	if len(doc.Interpreter) > 0 {
		s.Interpreter = doc.Interpreter
	}
	if doc.GracePeriod != "" {
		d, err := time.ParseDuration(doc.GracePeriod)
		if err != nil {
			return streamerrors.NewValidationError("grace_period", "invalid duration "+doc.GracePeriod, err)
		}
		s.GracePeriod = d
	}
	if doc.LogLevel != "" {
		s.LogLevel = doc.LogLevel
	}
	if doc.HistoryDB != "" {
		s.HistoryDB = doc.HistoryDB
	}
	return nil
}

// applyEnv layers MAGE_* overrides, the highest-precedence source.
func (s *Settings) applyEnv() error {
	if v := os.Getenv("MAGE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return streamerrors.NewValidationError("MAGE_CONCURRENCY", "not an integer: "+v, err)
		}
		s.Concurrency = n
	}
	if v := os.Getenv("MAGE_INTERPRETER"); v != "" {
		s.Interpreter = strings.Fields(v)
	}
	if v := os.Getenv("MAGE_GRACE_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return streamerrors.NewValidationError("MAGE_GRACE_PERIOD", "invalid duration "+v, err)
		}
		s.GracePeriod = d
	}
	if v := os.Getenv("MAGE_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("MAGE_HISTORY_DB"); v != "" {
		s.HistoryDB = v
	}
	return nil
}

func (s *Settings) validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		return convertValidationError(err)
	}
	if s.GracePeriod <= 0 {
		return streamerrors.NewValidationError("grace_period", fmt.Sprintf("must be positive, got %s", s.GracePeriod), nil)
	}
	return nil
}

// Save writes the settings document, creating the settings directory if
// needed.
func Save(projectRoot string, s Settings) error {
	doc := settingsDoc{
		Concurrency: s.Concurrency,
		Interpreter: s.Interpreter,
		GracePeriod: s.GracePeriod.String(),
		LogLevel:    s.LogLevel,
		HistoryDB:   s.HistoryDB,
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return streamerrors.NewValidationError("settings", "cannot encode settings", err)
	}
	dir := filepath.Join(projectRoot, SettingsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SettingsFile), data, 0o644)
}
