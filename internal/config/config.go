// Package config is the single place the process environment is read. The
// resulting Config is passed into every constructor.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v6"

	"tutor-agent/internal/integrations/paramstore"
)

const (
	BackendGitHub   = "github"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	// Daily log storage
	LogBackend     string `env:"LOG_BACKEND" envDefault:"github"`
	GitHubToken    string `env:"GITHUB_TOKEN"`
	GitHubRepoInfo string `env:"GITHUB_REPO_INFO"`
	GitHubAPIURL   string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	LogPrefix      string `env:"LOG_PREFIX" envDefault:"daily-chats"`
	LogTable       string `env:"LOG_TABLE"`
	LogTimeZone    string `env:"LOG_TIME_ZONE" envDefault:"Asia/Shanghai"`

	// Session records
	NotionAPIKey       string `env:"NOTION_API_KEY"`
	NotionDatabaseID   string `env:"NOTION_DATABASE_ID"`
	NotionAPIURL       string `env:"NOTION_API_URL" envDefault:"https://api.notion.com/v1"`
	RecordMatchChapter bool   `env:"RECORD_MATCH_CHAPTER" envDefault:"false"`

	// AI
	AIAPIURL          string  `env:"AI_API_URL"`
	AIAPIKey          string  `env:"AI_API_KEY"`
	AIModel           string  `env:"AI_MODEL" envDefault:"doubao-1-5-pro-32k-250115"`
	AISystemPrompt    string  `env:"AI_SYSTEM_PROMPT"`
	AISummaryPrompt   string  `env:"AI_SUMMARY_PROMPT"`
	AIChallengePrompt string  `env:"AI_CHALLENGE_PROMPT"`
	AIMaxTokens       int     `env:"AI_MAX_TOKENS" envDefault:"1000"`
	AITemperature     float32 `env:"AI_TEMPERATURE" envDefault:"0.7"`

	// Outbound requests
	RetryMax       int           `env:"RETRY_MAX" envDefault:"3"`
	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Secrets
	ParamPrefix string `env:"PARAM_PREFIX"`

	// Local server
	AutoCloseSchedule string `env:"AUTO_CLOSE_SCHEDULE"`
	ListenAddr        string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
}

// Error is a fatal configuration problem. It is never retried.
type Error struct {
	Missing []string
	Reason  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case len(e.Missing) > 0 && e.Reason != "":
		return fmt.Sprintf("config: missing %s; %s", strings.Join(e.Missing, ", "), e.Reason)
	case len(e.Missing) > 0:
		return "config: missing " + strings.Join(e.Missing, ", ")
	default:
		return "config: " + e.Reason
	}
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given environment instead of the process one.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg, opts); err != nil {
		return Config{}, &Error{Reason: err.Error()}
	}
	cfg.LogBackend = strings.ToLower(strings.TrimSpace(cfg.LogBackend))
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	return cfg, nil
}

// ResolveSecrets fills tokens that are not set in the environment from SSM
// when a parameter prefix is configured. Tokens already present win.
func (c *Config) ResolveSecrets(ctx context.Context, getter paramstore.Getter) error {
	if c.ParamPrefix == "" {
		return nil
	}
	secrets := []struct {
		name  string
		value *string
		need  bool
	}{
		{"github-token", &c.GitHubToken, c.LogBackend == BackendGitHub},
		{"notion-token", &c.NotionAPIKey, true},
		{"ai-api-key", &c.AIAPIKey, true},
	}
	for _, s := range secrets {
		if !s.need || strings.TrimSpace(*s.value) != "" {
			continue
		}
		token, err := paramstore.Token(ctx, getter, c.ParamPrefix+"/"+s.name)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", s.name, err)
		}
		*s.value = token
	}
	return nil
}

// Validate reports every missing required option at once.
func (c Config) Validate() error {
	var missing []string
	need := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	var reasons []string
	switch c.LogBackend {
	case BackendGitHub:
		need("GITHUB_TOKEN", c.GitHubToken)
		need("GITHUB_REPO_INFO", c.GitHubRepoInfo)
		if c.GitHubRepoInfo != "" {
			parts := strings.Split(c.GitHubRepoInfo, "/")
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				reasons = append(reasons, "GITHUB_REPO_INFO must be owner/repo")
			}
		}
	case BackendDynamoDB:
		need("LOG_TABLE", c.LogTable)
	default:
		reasons = append(reasons, fmt.Sprintf("LOG_BACKEND %q must be %s or %s", c.LogBackend, BackendGitHub, BackendDynamoDB))
	}
	need("NOTION_API_KEY", c.NotionAPIKey)
	need("NOTION_DATABASE_ID", c.NotionDatabaseID)
	need("AI_API_URL", c.AIAPIURL)
	need("AI_API_KEY", c.AIAPIKey)

	if _, err := time.LoadLocation(c.LogTimeZone); err != nil {
		reasons = append(reasons, fmt.Sprintf("LOG_TIME_ZONE %q: %v", c.LogTimeZone, err))
	}
	if c.RetryMax < 0 {
		reasons = append(reasons, "RETRY_MAX must not be negative")
	}
	if c.RequestTimeout <= 0 {
		reasons = append(reasons, "REQUEST_TIMEOUT must be positive")
	}

	if len(missing) == 0 && len(reasons) == 0 {
		return nil
	}
	return &Error{Missing: missing, Reason: strings.Join(reasons, "; ")}
}

// Location is the zone that decides which calendar day a turn belongs to.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.LogTimeZone)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("LOG_TIME_ZONE %q: %v", c.LogTimeZone, err)}
	}
	return loc, nil
}

// SlogLevel maps LOG_LEVEL onto slog; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
