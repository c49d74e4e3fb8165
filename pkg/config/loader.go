package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig loads and validates configuration from a YAML file with environment
// variable substitution. An empty path loads defaults plus environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
			envVar := match[2 : len(match)-1]
			if value := os.Getenv(envVar); value != "" {
				return value
			}
			return match
		})

		if err := yaml.Unmarshal([]byte(dataStr), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	applyLegacyEnv(&config)
	applyEnvOverrides(&config)
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyLegacyEnv honours the variable names used by existing deployments.
func applyLegacyEnv(config *Config) {
	if v := os.Getenv(EnvHiveDir); v != "" {
		config.WorkDir = v
	}
	if v := os.Getenv(EnvInvokerMode); v != "" {
		config.Invoker.Mode = strings.ToLower(v)
	}
	if v := os.Getenv(EnvTelegramToken); v != "" {
		config.Telegram.Token = v
	}
	if v := os.Getenv(EnvAllowedUsers); v != "" {
		config.Telegram.AllowedUsers = ParseUserIDs(v)
	}
	if v := os.Getenv(EnvDBPassphrase); v != "" {
		config.Database.Passphrase = v
	}
}

// ParseUserIDs parses a comma-separated list of numeric ids, skipping junk.
func ParseUserIDs(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			LogInfo("⚠️  ignoring invalid user id %q", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func applyEnvOverrides(config *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(config).Elem(), EnvPrefix)
}

// applyEnvOverridesRecursive maps yaml tags to OMEGACLAW_<SECTION>_<FIELD> keys.
func applyEnvOverridesRecursive(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		envKey := prefix + strings.ToUpper(strings.Split(tag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, envKey+"_")
			continue
		}
		if envValue, ok := os.LookupEnv(envKey); ok && envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		if d, err := time.ParseDuration(envValue); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int64:
		if val, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			field.SetInt(val)
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(envValue); err == nil {
			field.SetBool(val)
		}
	case reflect.Slice:
		switch field.Type().Elem().Kind() {
		case reflect.String:
			var parts []string
			for _, p := range strings.Split(envValue, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
			field.Set(reflect.ValueOf(parts))
		case reflect.Int64:
			field.Set(reflect.ValueOf(ParseUserIDs(envValue)))
		}
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(config *Config) {
	if config.WorkDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		config.WorkDir = filepath.Join(home, ".omegaclaw", "hive")
	}
	config.WorkDir = expandHome(config.WorkDir)
	if config.ProjectDir == "" {
		config.ProjectDir = filepath.Join(config.WorkDir, "workspace")
	}
	config.ProjectDir = expandHome(config.ProjectDir)

	inv := &config.Invoker
	if inv.Mode == "" {
		inv.Mode = ModeScript
	}
	if inv.MaxCycles == 0 {
		inv.MaxCycles = 50
	}
	if inv.ReportEvery == 0 {
		inv.ReportEvery = 5
	}
	if inv.MaxIdle == 0 {
		inv.MaxIdle = 600 * time.Second
	}
	if inv.PollInterval == 0 {
		inv.PollInterval = 10 * time.Second
	}
	if inv.AnswerTimeout == 0 {
		inv.AnswerTimeout = 30 * time.Minute
	}
	if inv.AnswerRenotify == 0 {
		inv.AnswerRenotify = 2
	}
	if inv.SimpleTimeout == 0 {
		inv.SimpleTimeout = time.Hour
	}
	if inv.CycleTimeout == 0 {
		inv.CycleTimeout = 300 * time.Second
	}
	if inv.BashTimeout == 0 {
		inv.BashTimeout = 120 * time.Second
	}
	if inv.HeartbeatInterval == 0 {
		inv.HeartbeatInterval = 60 * time.Second
	}
	if inv.KillGrace == 0 {
		inv.KillGrace = 5 * time.Second
	}

	if config.Claude.Path == "" {
		config.Claude.Path = "claude"
	}

	if len(config.Brain.Backends) == 0 {
		config.Brain.Backends = []string{BackendCLI}
	}
	if config.Brain.MaxPromptTokens == 0 {
		config.Brain.MaxPromptTokens = 8000
	}
	if config.Brain.Anthropic.Model == "" {
		config.Brain.Anthropic.Model = "claude-sonnet-4-5"
	}
	if config.Brain.OpenAI.Model == "" {
		config.Brain.OpenAI.Model = "gpt-4.1"
	}
	if config.Brain.Ollama.Model == "" {
		config.Brain.Ollama.Model = "qwen2.5-coder"
	}
	if config.Brain.Ollama.Host == "" {
		config.Brain.Ollama.Host = os.Getenv(EnvOllamaHost)
		if config.Brain.Ollama.Host == "" {
			config.Brain.Ollama.Host = "http://localhost:11434"
		}
	}
	if config.Brain.Gemini.Model == "" {
		config.Brain.Gemini.Model = "gemini-2.5-flash"
	}
	for _, m := range []*ModelConfig{&config.Brain.Anthropic, &config.Brain.OpenAI, &config.Brain.Ollama, &config.Brain.Gemini} {
		if m.MaxTokens == 0 {
			m.MaxTokens = 4096
		}
	}

	if config.Telegram.APIBase == "" {
		config.Telegram.APIBase = "https://api.telegram.org"
	}
	if config.Telegram.PollTimeout == 0 {
		config.Telegram.PollTimeout = 30 * time.Second
	}

	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(config.WorkDir, "omegaclaw.db")
	}

	gui := &config.GUI
	if gui.App == "" {
		gui.App = "Antigravity"
	}
	if gui.Interval == 0 {
		gui.Interval = 3 * time.Second
	}
	if gui.IdleTimeout == 0 {
		gui.IdleTimeout = 600 * time.Second
	}
	if gui.PlanningModel == "" {
		gui.PlanningModel = "Claude Opus"
	}
	if gui.FastModel == "" {
		gui.FastModel = "Gemini Flash"
	}
	if gui.WidthFraction == 0 {
		gui.WidthFraction = 0.8
	}
	if gui.HeightFraction == 0 {
		gui.HeightFraction = 0.9
	}

	if config.Plugins.Dir == "" {
		config.Plugins.Dir = filepath.Join(config.WorkDir, "plugins")
	}
	if config.Plugins.Allow == nil {
		config.Plugins.Allow = []string{"clock", "encoding"}
	}
	if config.Plugins.Timeout == 0 {
		config.Plugins.Timeout = 5 * time.Second
	}

	if config.Admin.Addr == "" {
		config.Admin.Addr = "127.0.0.1:9464"
	}

	if config.Wizard.ConfigDir == "" {
		config.Wizard.ConfigDir = filepath.Join(config.WorkDir, "mcps")
	}
	if config.Wizard.EnvFile == "" {
		config.Wizard.EnvFile = filepath.Join(config.WorkDir, ".env")
	}

	if config.EventLog.Dir == "" {
		config.EventLog.Dir = filepath.Join(config.WorkDir, "logs")
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// validateConfig rejects configurations the runner cannot operate with.
func validateConfig(config *Config) error {
	var errs []error

	switch config.Invoker.Mode {
	case ModeSimple, ModeInteractive, ModeScript:
	default:
		errs = append(errs, fmt.Errorf("invoker.mode must be one of simple, interactive, script (got %q)", config.Invoker.Mode))
	}

	if config.Invoker.MaxCycles < 1 {
		errs = append(errs, fmt.Errorf("invoker.max_cycles must be positive (got %d)", config.Invoker.MaxCycles))
	}
	if config.Invoker.ReportEvery < 1 {
		errs = append(errs, fmt.Errorf("invoker.report_every must be positive (got %d)", config.Invoker.ReportEvery))
	}
	if config.Invoker.AnswerRenotify < 0 {
		errs = append(errs, fmt.Errorf("invoker.answer_renotify cannot be negative"))
	}

	for _, b := range config.Brain.Backends {
		switch b {
		case BackendCLI, BackendAnthropic, BackendOpenAI, BackendOllama, BackendGemini:
		default:
			errs = append(errs, fmt.Errorf("brain.backends: unknown backend %q", b))
		}
	}

	if config.GUI.WidthFraction <= 0 || config.GUI.WidthFraction > 1 ||
		config.GUI.HeightFraction <= 0 || config.GUI.HeightFraction > 1 {
		errs = append(errs, fmt.Errorf("gui width/height fractions must be in (0, 1]"))
	}

	return errors.Join(errs...)
}

// AllowsUser reports whether a Telegram user may talk to the bot. An empty
// allow-list denies everyone.
func (c *Config) AllowsUser(id int64) bool {
	for _, allowed := range c.Telegram.AllowedUsers {
		if allowed == id {
			return true
		}
	}
	return false
}
