// Package config loads the dispatcher configuration from YAML with environment
// substitution and overrides, and manages encrypted secrets.
package config

import (
	"time"

	"omegaclaw/pkg/logx"
)

// Invoker modes select the strategy the runner starts for new jobs.
const (
	ModeSimple      = "simple"
	ModeInteractive = "interactive"
	ModeScript      = "script"
)

// Brain backends usable by the script-cycle strategy.
const (
	BackendCLI       = "cli"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
	BackendGemini    = "gemini"
)

// Environment variables for API keys and legacy settings.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvTelegramToken   = "TELEGRAM_BOT_TOKEN"
	EnvAllowedUsers    = "TELEGRAM_ALLOWED_USER_IDS"
	EnvHiveDir         = "OMEGA_HIVE_DIR"
	EnvInvokerMode     = "OMEGA_INVOKER_MODE"
	EnvDBPassphrase    = "OMEGACLAW_DB_PASSPHRASE"

	// EnvPrefix prefixes every structured override, e.g. OMEGACLAW_INVOKER_MAX_CYCLES.
	EnvPrefix = "OMEGACLAW_"
)

// Config is the root configuration.
type Config struct {
	// WorkDir is the mailbox root (inbox, outbox, blockers, progress, state).
	WorkDir string `yaml:"work_dir"`

	// ProjectDir is where the external process runs and script actions land.
	ProjectDir string `yaml:"project_dir"`

	Invoker  InvokerConfig  `yaml:"invoker"`
	Claude   ClaudeConfig   `yaml:"claude"`
	Brain    BrainConfig    `yaml:"brain"`
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	GUI      GUIConfig      `yaml:"gui"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Admin    AdminConfig    `yaml:"admin"`
	Wizard   WizardConfig   `yaml:"wizard"`
	EventLog EventLogConfig `yaml:"eventlog"`
}

// InvokerConfig holds the state machine limits.
type InvokerConfig struct {
	Mode              string        `yaml:"mode"`
	MaxCycles         int           `yaml:"max_cycles"`
	ReportEvery       int           `yaml:"report_every"`
	MaxIdle           time.Duration `yaml:"max_idle"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	AnswerTimeout     time.Duration `yaml:"answer_timeout"`
	AnswerRenotify    int           `yaml:"answer_renotify"`
	SimpleTimeout     time.Duration `yaml:"simple_timeout"`
	CycleTimeout      time.Duration `yaml:"cycle_timeout"`
	BashTimeout       time.Duration `yaml:"bash_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	KillGrace         time.Duration `yaml:"kill_grace"`
	GUIFailover       bool          `yaml:"gui_failover"`
}

// ClaudeConfig describes the coding-assistant CLI.
type ClaudeConfig struct {
	Path  string `yaml:"path"`
	Model string `yaml:"model"`
}

// BrainConfig lists script-cycle backends in rotation order.
type BrainConfig struct {
	Backends        []string    `yaml:"backends"`
	MaxPromptTokens int         `yaml:"max_prompt_tokens"`
	Anthropic       ModelConfig `yaml:"anthropic"`
	OpenAI          ModelConfig `yaml:"openai"`
	Ollama          ModelConfig `yaml:"ollama"`
	Gemini          ModelConfig `yaml:"gemini"`
}

// ModelConfig configures one API backend.
type ModelConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Host      string `yaml:"host"`

	// MaxTPM caps prompt tokens per minute; DailyTokens caps them per day.
	// Zero leaves the backend unmetered.
	MaxTPM      int `yaml:"max_tpm"`
	DailyTokens int `yaml:"daily_tokens"`
}

// TelegramConfig configures the messaging front end.
type TelegramConfig struct {
	Token        string        `yaml:"token"`
	APIBase      string        `yaml:"api_base"`
	AllowedUsers []int64       `yaml:"allowed_users"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

// GUIConfig configures the desktop automation fallback.
type GUIConfig struct {
	Enabled        bool          `yaml:"enabled"`
	App            string        `yaml:"app"`
	Interval       time.Duration `yaml:"interval"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	Landmarks      string        `yaml:"landmarks"`
	PlanningModel  string        `yaml:"planning_model"`
	FastModel      string        `yaml:"fast_model"`
	WidthFraction  float64       `yaml:"width_fraction"`
	HeightFraction float64       `yaml:"height_fraction"`
}

// PluginsConfig points at the plugin manifests. Allow lists the capabilities
// the operator lets plugins request.
type PluginsConfig struct {
	Dir     string        `yaml:"dir"`
	Allow   []string      `yaml:"allow"`
	Timeout time.Duration `yaml:"timeout"`
}

// AdminConfig configures the health/metrics HTTP server. The /api routes
// require Token as a bearer token and are refused when it is empty.
type AdminConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// WizardConfig configures MCP installation output.
type WizardConfig struct {
	ConfigDir  string `yaml:"config_dir"`
	EnvFile    string `yaml:"env_file"`
	Blueprints string `yaml:"blueprints"`
}

// EventLogConfig configures the JSONL audit trail.
type EventLogConfig struct {
	Dir string `yaml:"dir"`
}

var logger = logx.NewLogger("config")

// LogInfo logs through the config logger.
func LogInfo(format string, args ...any) {
	logger.Info(format, args...)
}
