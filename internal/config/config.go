// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	CORSOrigins []string

	LLM      LLMConfig
	Analysis AnalysisConfig
	Agent    AgentConfig
	Handoff  HandoffConfig
	Session  SessionConfig
	Slack    SlackConfig
	MQTT     MQTTConfig

	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	RetryDelay time.Duration
}

// AnalysisConfig selects the sentiment scorer. When GRPCAddr is set the
// remote analysis service is used, otherwise Model is prompted through
// the chat endpoint. Model also serves intent routing and the co-pilot.
type AnalysisConfig struct {
	Model    string
	GRPCAddr string
}

// AgentConfig controls the dialogue loop.
type AgentConfig struct {
	Role          string
	MaxIterations int
	PromptsFile   string
	DefaultTone   string
	KnowledgeDir  string
	IntentRouting bool
}

// HandoffConfig controls escalation.
type HandoffConfig struct {
	GroundingCheck bool
	QueueSize      int
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	CloseTimeout   time.Duration
	IdleTTL        time.Duration
	ReapSchedule   string
	ClosingPhrases []string
}

// SlackConfig enables the Slack handoff notifier when BotToken is set.
type SlackConfig struct {
	BotToken  string
	ChannelID string
}

// MQTTConfig enables the MQTT handoff publisher when Broker is set.
type MQTTConfig struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
}

// RateLimitConfig bounds chat requests per client address.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// DefaultClosingPhrases mark an assistant reply as resolving the conversation.
var DefaultClosingPhrases = []string{
	"glad i could help",
	"is there anything else",
	"anything else i can help",
	"ticket updated",
	"has been updated",
	"replacement",
	"refund has been",
	"successfully",
	"have a great day",
	"resolved",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/cx.db"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		LLM: LLMConfig{
			BaseURL:    strings.TrimRight(getEnv("LLM_BASE_URL", "https://api.openai.com/v1"), "/"),
			APIKey:     getEnv("LLM_API_KEY", ""),
			Model:      getEnv("LLM_MODEL", "gpt-4o"),
			Timeout:    getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			RetryDelay: getEnvDuration("LLM_RETRY_DELAY", 500*time.Millisecond),
		},
		Analysis: AnalysisConfig{
			Model:    getEnv("ANALYSIS_MODEL", "gpt-4o-mini"),
			GRPCAddr: getEnv("ANALYSIS_GRPC_ADDR", ""),
		},
		Agent: AgentConfig{
			Role:          getEnv("AGENT_ROLE", "customer_ai"),
			MaxIterations: getEnvInt("AGENT_MAX_ITERATIONS", 5),
			PromptsFile:   getEnv("PROMPTS_FILE", "./config/system_prompts.yaml"),
			DefaultTone:   getEnv("DEFAULT_TONE", "friendly"),
			KnowledgeDir:  getEnv("KNOWLEDGE_DIR", "./data/knowledge"),
			IntentRouting: getEnvBool("AGENT_INTENT_ROUTING", true),
		},
		Handoff: HandoffConfig{
			GroundingCheck: getEnvBool("HANDOFF_GROUNDING_CHECK", false),
			QueueSize:      getEnvInt("HANDOFF_QUEUE_SIZE", 100),
		},
		Session: SessionConfig{
			CloseTimeout:   getEnvDuration("CLOSE_TIMEOUT", 30*time.Second),
			IdleTTL:        getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			ReapSchedule:   getEnv("SESSION_REAP_SCHEDULE", "*/5 * * * *"),
			ClosingPhrases: getEnvList("CLOSING_PHRASES", DefaultClosingPhrases),
		},
		Slack: SlackConfig{
			BotToken:  getEnv("SLACK_BOT_TOKEN", ""),
			ChannelID: getEnv("SLACK_CHANNEL_ID", ""),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			TopicPrefix: strings.TrimRight(getEnv("MQTT_TOPIC_PREFIX", "cx"), "/"),
			ClientID:    getEnv("MQTT_CLIENT_ID", "cx-agent"),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL cannot be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	switch c.Agent.Role {
	case "customer_ai", "agent_assist":
	default:
		return fmt.Errorf("AGENT_ROLE must be customer_ai or agent_assist, got %q", c.Agent.Role)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be > 0")
	}
	if c.Handoff.QueueSize <= 0 {
		return fmt.Errorf("HANDOFF_QUEUE_SIZE must be > 0")
	}
	if c.Session.CloseTimeout <= 0 {
		return fmt.Errorf("CLOSE_TIMEOUT must be > 0")
	}
	if c.Session.ReapSchedule == "" {
		return fmt.Errorf("SESSION_REAP_SCHEDULE cannot be empty")
	}
	if c.Slack.BotToken != "" && c.Slack.ChannelID == "" {
		return fmt.Errorf("SLACK_CHANNEL_ID is required when SLACK_BOT_TOKEN is set")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
