package protein

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// ErrConfigValidation is returned when configuration validation fails.
var ErrConfigValidation = errors.New("configuration validation failed")

// Config is Protein's project-level configuration, optionally loaded
// from a `protein.yaml` in the working directory (spec §6, §7 "Ambient
// Stack"): default emitter options per format, a named database URL
// table `.def_sql` can reference by name, and default `--set` values
// the CLI's own `--set` flags override.
type Config struct {
	Databases map[string]Database `yaml:"databases"`
	Set       map[string]string   `yaml:"set"`
	Emit      EmitConfig          `yaml:"emit"`
}

// Database names a SQL engine URL `.def_sql .url: "$db.primary"`-style
// references can resolve against, so connection strings live in one
// place instead of being repeated across documents.
type Database struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// EmitConfig holds the per-format default argument tables spec §6
// tabulates for the yaml/json/toml emitters.
type EmitConfig struct {
	YAML YAMLEmitConfig `yaml:"yaml"`
	JSON JSONEmitConfig `yaml:"json"`
}

// YAMLEmitConfig mirrors the ruamel-style defaults spec §6 names:
// "indent=2, offset=2, width=80, explicit_start=false, ...".
type YAMLEmitConfig struct {
	Indent        int  `yaml:"indent"`
	Offset        int  `yaml:"offset"`
	Width         int  `yaml:"width"`
	ExplicitStart bool `yaml:"explicit_start"`
}

// JSONEmitConfig holds the json emitter defaults indent, sort_keys,
// ensure_ascii and allow_nan. The json emitter reads only indent and
// sort_keys; ensure_ascii and allow_nan are accepted here but do not
// change its output, and separators and skipkeys are not supported.
type JSONEmitConfig struct {
	Indent      int  `yaml:"indent"`
	SortKeys    bool `yaml:"sort_keys"`
	EnsureASCII bool `yaml:"ensure_ascii"`
	AllowNaN    bool `yaml:"allow_nan"`
}

// LoadConfig loads `protein.yaml`-shaped configuration from configPath,
// falling back to defaults when the file does not exist. Grounded on the
// teacher's own LoadConfig (`.env` preload via godotenv, strict YAML
// parse, default/validate/expand pipeline), trimmed to Protein's own
// Config shape.
func LoadConfig(configPath string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := defaultConfig()
		expandConfigEnvVars(config)

		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()

	if err := yaml.UnmarshalWithOptions(data, config, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	expandConfigEnvVars(config)

	return config, nil
}

func validateConfig(config *Config) error {
	for name, db := range config.Databases {
		if db.URL == "" {
			return fmt.Errorf("%w: database %q: url is required", ErrConfigValidation, name)
		}
	}

	if config.Emit.YAML.Indent < 0 {
		return fmt.Errorf("%w: emit.yaml.indent must be non-negative", ErrConfigValidation)
	}

	if config.Emit.JSON.Indent < 0 {
		return fmt.Errorf("%w: emit.json.indent must be non-negative", ErrConfigValidation)
	}

	return nil
}

func defaultConfig() *Config {
	return &Config{
		Databases: make(map[string]Database),
		Set:       make(map[string]string),
		Emit: EmitConfig{
			YAML: YAMLEmitConfig{Indent: 2, Offset: 2, Width: 80, ExplicitStart: false},
			JSON: JSONEmitConfig{Indent: 2, SortKeys: false, EnsureASCII: false, AllowNaN: false},
		},
	}
}

func loadEnvFiles() error {
	if fileExists(".env") {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	return nil
}

var (
	envBraceRe = regexp.MustCompile(`\$\{([^}]+)\}`)
	envBareRe  = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars expands `${VAR}` and `$VAR` references against the
// process environment, the same two-pattern scheme the teacher's config
// loader uses.
func expandEnvVars(s string) string {
	s = envBraceRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	return envBareRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[1:])
	})
}

func expandConfigEnvVars(config *Config) {
	for name, db := range config.Databases {
		db.URL = expandEnvVars(db.URL)
		db.Driver = expandEnvVars(db.Driver)
		config.Databases[name] = db
	}

	for k, v := range config.Set {
		config.Set[k] = expandEnvVars(v)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
