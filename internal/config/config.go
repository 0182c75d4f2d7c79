// Package config loads settings with the priority
// environment > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. REPLYDRAFT_LLM_MODEL.
const EnvPrefix = "REPLYDRAFT"

type Config struct {
	Listen    string         `mapstructure:"listen"`
	LedgerDSN string         `mapstructure:"ledger_dsn"`
	Log       LogConfig      `mapstructure:"log"`
	Gmail     GmailConfig    `mapstructure:"gmail"`
	LLM       LLMConfig      `mapstructure:"llm"`
	Index     IndexConfig    `mapstructure:"index"`
	Pipeline  PipelineConfig `mapstructure:"pipeline"`
	Ingest    IngestConfig   `mapstructure:"ingest"`
	Watch     WatchConfig    `mapstructure:"watch"`
	Push      PushConfig     `mapstructure:"push"`
	// ProjectID is the Google Cloud project owning the notification topic.
	ProjectID string `mapstructure:"project_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type GmailConfig struct {
	ClientSecretFile string        `mapstructure:"client_secret_file"`
	ClientID         string        `mapstructure:"client_id"`
	ClientSecret     string        `mapstructure:"client_secret"`
	TokenURI         string        `mapstructure:"token_uri"`
	TokenFile        string        `mapstructure:"token_file"`
	AllowAmbient     bool          `mapstructure:"allow_ambient"`
	ProcessedLabel   string        `mapstructure:"processed_label"`
	RefreshTimeout   time.Duration `mapstructure:"refresh_timeout"`
}

type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float64       `mapstructure:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// IndexConfig points at the knowledge-base index. An empty Endpoint
// disables retrieval.
type IndexConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	DeployedIndexID string `mapstructure:"deployed_index_id"`
}

type PipelineConfig struct {
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	IgnoreSenders []string      `mapstructure:"ignore_senders"`
	FallbackBatch int           `mapstructure:"fallback_batch"`
	Concurrency   int           `mapstructure:"concurrency"`
}

type IngestConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
	BatchSize int `mapstructure:"batch_size"`
}

// WatchConfig controls mailbox push registration. An empty Topic falls back
// to projects/<project_id>/topics/gmail-notifications.
type WatchConfig struct {
	Topic      string        `mapstructure:"topic"`
	Labels     []string      `mapstructure:"labels"`
	RenewEvery time.Duration `mapstructure:"renew_every"`
}

// PushConfig enables bearer token checks on the push endpoint when Audience
// is set.
type PushConfig struct {
	Audience       string `mapstructure:"audience"`
	ServiceAccount string `mapstructure:"service_account"`
}

// legacyEnv maps config keys to unprefixed variable names that deployments
// already set.
var legacyEnv = map[string][]string{
	"gmail.client_id":         {"GMAIL_CLIENT_ID"},
	"gmail.client_secret":     {"GMAIL_CLIENT_SECRET"},
	"gmail.token_uri":         {"GMAIL_TOKEN_URI"},
	"llm.api_key":             {"GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY"},
	"llm.model":               {"GEMINI_MODEL"},
	"index.endpoint":          {"VERTEX_INDEX_ENDPOINT"},
	"index.deployed_index_id": {"VERTEX_DEPLOYED_INDEX_ID"},
	"project_id":              {"PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
	"push.audience":           {"PUBSUB_VERIFICATION_AUDIENCE"},
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, ".config", "replydraft")

	v.SetDefault("listen", ":8080")
	v.SetDefault("ledger_dsn", filepath.Join(dir, "ledger.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("gmail.client_secret_file", "")
	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.token_uri", "https://oauth2.googleapis.com/token")
	v.SetDefault("gmail.token_file", filepath.Join(dir, "tokens.json"))
	v.SetDefault("gmail.allow_ambient", true)
	v.SetDefault("gmail.processed_label", "replydraft/processed")
	v.SetDefault("gmail.refresh_timeout", 15*time.Second)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("index.endpoint", "")
	v.SetDefault("index.deployed_index_id", "support_docs")

	v.SetDefault("pipeline.run_timeout", 60*time.Second)
	v.SetDefault("pipeline.ignore_senders", []string{})
	v.SetDefault("pipeline.fallback_batch", 5)
	v.SetDefault("pipeline.concurrency", 4)

	v.SetDefault("ingest.chunk_size", 500)
	v.SetDefault("ingest.overlap", 50)
	v.SetDefault("ingest.batch_size", 100)

	v.SetDefault("project_id", "")
	v.SetDefault("watch.topic", "")
	v.SetDefault("watch.labels", []string{"INBOX"})
	v.SetDefault("watch.renew_every", 24*time.Hour)
	v.SetDefault("push.audience", "")
	v.SetDefault("push.service_account", "")
}

// Load reads an optional .env file, then the config file (explicit path, or
// replydraft.{yaml,json,toml} in . or ~/.config/replydraft), then the
// environment.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New(), configFile)
}

func load(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("replydraft")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "replydraft"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive")
	}
	if c.Ingest.Overlap < 0 || c.Ingest.Overlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.overlap must be in [0, chunk_size)")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2]")
	}
	if c.Pipeline.FallbackBatch < 0 || c.Pipeline.FallbackBatch > 50 {
		return fmt.Errorf("pipeline.fallback_batch must be in [0, 50]")
	}
	if c.Watch.RenewEvery < 0 {
		return fmt.Errorf("watch.renew_every must not be negative")
	}
	return nil
}

// WatchTopic is the Pub/Sub topic mailbox changes are published to, or ""
// when neither a topic nor a project is configured.
func (c *Config) WatchTopic() string {
	if t := strings.TrimSpace(c.Watch.Topic); t != "" {
		return t
	}
	if p := strings.TrimSpace(c.ProjectID); p != "" {
		return "projects/" + p + "/topics/gmail-notifications"
	}
	return ""
}

// RetrievalEnabled reports whether an index endpoint is configured.
func (c *Config) RetrievalEnabled() bool {
	return strings.TrimSpace(c.Index.Endpoint) != ""
}
