package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level configuration structure. It is built once at
// startup and handed to constructors explicitly.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Model        ModelConfig        `json:"model"`
	Fallbacks    []ModelConfig      `json:"fallbacks,omitempty" validate:"dive"`
	Search       SearchConfig       `json:"search"`
	Weather      WeatherConfig      `json:"weather"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Memory       MemoryConfig       `json:"memory"`
	Gateway      GatewayConfig      `json:"gateway"`
	Database     DatabaseConfig     `json:"database"`
	Log          LogConfig          `json:"log"`
	Timezone     string             `json:"timezone" validate:"required"`
	AgentsFile   string             `json:"agents_file,omitempty"`
}

type ServerConfig struct {
	Port int `json:"port" validate:"gt=0,lt=65536"`
}

// ModelConfig selects one chat model backend.
type ModelConfig struct {
	Provider    string  `json:"provider" validate:"oneof=openai anthropic"`
	Name        string  `json:"name" validate:"required"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens" validate:"gt=0"`
	APIKey      string  `json:"api_key" validate:"required"`
	Endpoint    string  `json:"endpoint,omitempty"`
}

type SearchConfig struct {
	APIKey          string `json:"api_key" validate:"required"`
	Endpoint        string `json:"endpoint" validate:"required,url"`
	MaxResults      int    `json:"max_results" validate:"gt=0,lte=20"`
	ResearchResults int    `json:"research_results" validate:"gt=0,lte=20"`
}

type WeatherConfig struct {
	ForecastURL string  `json:"forecast_url" validate:"required,url"`
	GeocodeURL  string  `json:"geocode_url" validate:"required,url"`
	UserAgent   string  `json:"user_agent" validate:"required"`
	GeocodeRPS  float64 `json:"geocode_rps" validate:"gt=0"`
}

type OrchestratorConfig struct {
	MaxTurns          int      `json:"max_turns" validate:"gt=0"`
	TerminationToken  string   `json:"termination_token" validate:"required"`
	TurnTimeout       Duration `json:"turn_timeout"`
	ToolTimeout       Duration `json:"tool_timeout"`
	MaxToolRounds     int      `json:"max_tool_rounds" validate:"gt=0"`
	MaxConcurrentRuns int      `json:"max_concurrent_runs" validate:"gt=0"`
	HistoryBudget     int      `json:"history_budget" validate:"gte=0"`
}

type MemoryConfig struct {
	ContextMessages int      `json:"context_messages" validate:"gte=0"`
	RetentionDays   int      `json:"retention_days" validate:"gte=0"`
	PurgeInterval   Duration `json:"purge_interval"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled       bool   `json:"enabled"`
	BotToken      string `json:"bot_token"`
	AppToken      string `json:"app_token"`
	SigningSecret string `json:"signing_secret"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type LogConfig struct {
	Level string `json:"level" validate:"oneof=debug info warn error"`
	File  string `json:"file"`
}

// Duration decodes from either a Go duration string ("30s") or a number of
// seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns a configuration with every non-credential field set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Model: ModelConfig{
			Provider:    "openai",
			Temperature: 1.0,
			MaxTokens:   4096,
		},
		Search: SearchConfig{
			Endpoint:        "https://api.tavily.com/search",
			MaxResults:      5,
			ResearchResults: 10,
		},
		Weather: WeatherConfig{
			ForecastURL: "https://api.open-meteo.com/v1/forecast",
			GeocodeURL:  "https://nominatim.openstreetmap.org/search",
			UserAgent:   "ai-assistant/1.0",
			GeocodeRPS:  1,
		},
		Orchestrator: OrchestratorConfig{
			MaxTurns:          15,
			TerminationToken:  "TERMINATE",
			TurnTimeout:       Duration{120 * time.Second},
			ToolTimeout:       Duration{30 * time.Second},
			MaxToolRounds:     1,
			MaxConcurrentRuns: 10,
			HistoryBudget:     24000,
		},
		Memory: MemoryConfig{
			ContextMessages: 10,
			RetentionDays:   30,
			PurgeInterval:   Duration{6 * time.Hour},
		},
		Log: LogConfig{
			Level: "info",
			File:  "logs/assistant.log",
		},
		Timezone: "America/Los_Angeles",
	}
}

// defaultModels maps a provider type to the model used when none is named.
var defaultModels = map[string]string{
	"openai":    "gpt-4o",
	"anthropic": "claude-sonnet-4-20250514",
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load builds the configuration from defaults, an optional JSON file and
// the process environment, in that order of precedence (last wins). The
// result is not validated; call Validate before constructing anything.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		// Substitute ${VAR} and ${VAR:default} with environment values.
		resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
			parts := envVarRe.FindStringSubmatch(match)
			name := parts[1]
			defaultVal := parts[2]
			if v := os.Getenv(name); v != "" {
				return v
			}
			return defaultVal
		})

		if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if problems := cfg.applyEnv(os.LookupEnv); len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}
	cfg.fillModelDefaults()
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables onto cfg and returns a problem
// for every value that could not be parsed.
func (c *Config) applyEnv(lookup lookupFunc) []string {
	var problems []string

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be an integer, got %q", name, v))
			return
		}
		*dst = n
	}
	float := func(name string, dst *float64) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be a number, got %q", name, v))
			return
		}
		*dst = f
	}

	str("MODEL_PROVIDER", &c.Model.Provider)
	c.Model.Provider = strings.ToLower(c.Model.Provider)

	// Provider credentials: the selected provider's key fills the primary
	// model, the other provider (if keyed) becomes a fallback.
	var openaiKey, anthropicKey, openaiModel, anthropicModel, openaiURL string
	str("OPENAI_API_KEY", &openaiKey)
	str("ANTHROPIC_API_KEY", &anthropicKey)
	str("OPENAI_MODEL", &openaiModel)
	str("ANTHROPIC_MODEL", &anthropicModel)
	str("OPENAI_BASE_URL", &openaiURL)

	switch c.Model.Provider {
	case "anthropic":
		setIf(&c.Model.APIKey, anthropicKey)
		setIf(&c.Model.Name, anthropicModel)
		if openaiKey != "" && !c.hasFallback("openai") {
			c.Fallbacks = append(c.Fallbacks, ModelConfig{
				Provider: "openai", Name: openaiModel, APIKey: openaiKey, Endpoint: openaiURL,
				Temperature: c.Model.Temperature, MaxTokens: c.Model.MaxTokens,
			})
		}
	default:
		setIf(&c.Model.APIKey, openaiKey)
		setIf(&c.Model.Name, openaiModel)
		setIf(&c.Model.Endpoint, openaiURL)
		if anthropicKey != "" && !c.hasFallback("anthropic") {
			c.Fallbacks = append(c.Fallbacks, ModelConfig{
				Provider: "anthropic", Name: anthropicModel, APIKey: anthropicKey,
				Temperature: c.Model.Temperature, MaxTokens: c.Model.MaxTokens,
			})
		}
	}
	float("OPENAI_TEMPERATURE", &c.Model.Temperature)

	str("TAVILY_SEARCH_KEY", &c.Search.APIKey)
	num("MAX_SEARCH_RESULTS", &c.Search.MaxResults)

	str("DEFAULT_TIMEZONE", &c.Timezone)
	str("LOG_LEVEL", &c.Log.Level)
	c.Log.Level = strings.ToLower(c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	num("MAX_TURNS", &c.Orchestrator.MaxTurns)
	if v, ok := lookup("TERMINATION_TOKEN"); ok {
		c.Orchestrator.TerminationToken = v
	}

	str("DATABASE_URL", &c.Database.Postgres.DSN)
	str("REDIS_URL", &c.Database.Redis.URL)

	str("SLACK_BOT_TOKEN", &c.Gateway.Slack.BotToken)
	str("SLACK_APP_TOKEN", &c.Gateway.Slack.AppToken)
	str("SLACK_SIGNING_SECRET", &c.Gateway.Slack.SigningSecret)
	str("DISCORD_BOT_TOKEN", &c.Gateway.Discord.BotToken)
	if _, ok := lookup("SLACK_BOT_TOKEN"); ok {
		c.Gateway.Slack.Enabled = true
	}
	if _, ok := lookup("DISCORD_BOT_TOKEN"); ok {
		c.Gateway.Discord.Enabled = true
	}

	str("AGENTS_FILE", &c.AgentsFile)
	num("PORT", &c.Server.Port)

	return problems
}

func (c *Config) hasFallback(provider string) bool {
	for _, fb := range c.Fallbacks {
		if fb.Provider == provider {
			return true
		}
	}
	return false
}

func (c *Config) fillModelDefaults() {
	if c.Model.Name == "" {
		c.Model.Name = defaultModels[c.Model.Provider]
	}
	for i := range c.Fallbacks {
		fb := &c.Fallbacks[i]
		if fb.Name == "" {
			fb.Name = defaultModels[fb.Provider]
		}
		if fb.MaxTokens == 0 {
			fb.MaxTokens = c.Model.MaxTokens
		}
	}
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// SlackEnabled reports whether the Slack front end has what it needs to run.
func (c *Config) SlackEnabled() bool {
	s := c.Gateway.Slack
	return s.Enabled && s.BotToken != "" && s.AppToken != ""
}

// DiscordEnabled reports whether the Discord front end is configured.
func (c *Config) DiscordEnabled() bool {
	return c.Gateway.Discord.Enabled && c.Gateway.Discord.BotToken != ""
}

// PersistenceEnabled reports whether a durable conversation store is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.Database.Postgres.DSN != ""
}
