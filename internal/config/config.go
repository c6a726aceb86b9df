// Package config loads the process configuration from the environment.
//
// Every knob has a default matching the reference deployment, so a bare
// environment still yields a runnable (if credential-less) agent.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-sourced settings.
type Config struct {
	Host string
	Port int

	// CoinGecko (free public API)
	CoinGeckoAPIURL  string
	CoinGeckoTimeout time.Duration
	AliasTTL         time.Duration

	// News feeds
	CoinDeskRSS    string
	RSS2JSONAPIURL string
	NewsTimeout    time.Duration

	// Redis
	RedisURL      string
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	CacheTTLShort  time.Duration
	ChatHistoryTTL time.Duration

	// Azure OpenAI
	AzureOpenAIEndpoint   string
	AzureOpenAIAPIKey     string
	AzureOpenAIAPIVersion string
	AzureOpenAIDeployment string
	MaxTokens             int
	Temperature           float64

	DeploymentLabel string
	SourceLabel     string

	// Agent metadata served by the manifest endpoints
	AgentName        string
	AgentDescription string
	AgentVersion     string
	AgentPublisher   string
	AgentWebsite     string

	LogLevel  string
	LogFormat string
	Debug     bool
}

// EnvLookup resolves an environment variable, reporting whether it was set.
type EnvLookup func(key string) (string, bool)

// LoadDotenv loads a .env file into the process environment when present.
// A missing file is not an error.
func LoadDotenv() {
	_ = godotenv.Load()
}

// Load builds a Config from the given lookup. A nil lookup reads the process
// environment.
func Load(lookup EnvLookup) *Config {
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	return &Config{
		Host: envString(lookup, "HOST", "0.0.0.0"),
		Port: envInt(lookup, "PORT", 8012),

		CoinGeckoAPIURL:  strings.TrimRight(envString(lookup, "COINGECKO_API_URL", "https://api.coingecko.com/api/v3"), "/"),
		CoinGeckoTimeout: envSeconds(lookup, "COINGECKO_TIMEOUT", 10*time.Second),
		AliasTTL:         envSeconds(lookup, "ALIAS_TTL", time.Hour),

		CoinDeskRSS:    envString(lookup, "COINDESK_RSS", "https://www.coindesk.com/arc/outboundfeeds/rss/"),
		RSS2JSONAPIURL: envString(lookup, "RSS2JSON_API_URL", "https://api.rss2json.com/v1/api.json"),
		NewsTimeout:    envSeconds(lookup, "NEWS_TIMEOUT", 6*time.Second),

		RedisURL:      envString(lookup, "REDIS_URL", "redis://localhost:6379/0"),
		RedisHost:     envString(lookup, "REDIS_HOST", "localhost"),
		RedisPort:     envInt(lookup, "REDIS_PORT", 6379),
		RedisDB:       envInt(lookup, "REDIS_DB", 0),
		RedisPassword: envString(lookup, "REDIS_PASSWORD", ""),

		CacheTTLShort:  envSeconds(lookup, "CACHE_TTL_SHORT", 5*time.Minute),
		ChatHistoryTTL: envSeconds(lookup, "CHAT_HISTORY_TTL", 24*time.Hour),

		AzureOpenAIEndpoint:   envString(lookup, "AZURE_OPENAI_ENDPOINT", ""),
		AzureOpenAIAPIKey:     envString(lookup, "AZURE_OPENAI_API_KEY", ""),
		AzureOpenAIAPIVersion: envString(lookup, "AZURE_OPENAI_API_VERSION", ""),
		AzureOpenAIDeployment: envString(lookup, "AZURE_OPENAI_DEPLOYMENT", ""),
		MaxTokens:             envInt(lookup, "MAX_TOKENS", 200),
		Temperature:           envFloat(lookup, "TEMPERATURE", 0.7),

		DeploymentLabel: envString(lookup, "DEPLOYMENT_LABEL", "CryptoSage A2A"),
		SourceLabel:     envString(lookup, "SOURCE_LABEL", "Telex.im A2A"),

		AgentName:        envString(lookup, "AGENT_NAME", "CryptoSage AI"),
		AgentDescription: envString(lookup, "AGENT_DESCRIPTION", "Crypto-focused A2A agent: prices, market lists, headlines, and concise explanations."),
		AgentVersion:     envString(lookup, "AGENT_VERSION", "1.0.0"),
		AgentPublisher:   envString(lookup, "AGENT_PUBLISHER", "CryptoSage"),
		AgentWebsite:     envString(lookup, "AGENT_WEBSITE", ""),

		LogLevel:  envString(lookup, "LOG_LEVEL", "info"),
		LogFormat: envString(lookup, "LOG_FORMAT", "text"),
		Debug:     envBool(lookup, "DEBUG", false),
	}
}

func envString(lookup EnvLookup, key, def string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(lookup EnvLookup, key string, def int) int {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envFloat(lookup EnvLookup, key string, def float64) float64 {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(lookup EnvLookup, key string, def bool) bool {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// envSeconds reads a duration expressed as a number of seconds, matching the
// reference deployment's environment contract.
func envSeconds(lookup EnvLookup, key string, def time.Duration) time.Duration {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}
