package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol). All
	// providers (openai, deepseek, siliconflow, ollama) share the config.
	LLMProvider string // Provider identifier: openai, deepseek, siliconflow, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has a default per provider
	LLMTimeout  int    // LLM request timeout in seconds (default: 120)

	// Complexity tier model bindings. Deployment configuration, not
	// routing logic: the router decides the tier, these decide the model.
	ModelSimple   string
	ModelMedium   string
	ModelComplex  string
	ModelAdvanced string

	// Embedding configuration
	EmbeddingProvider   string // openai-compatible provider id, or "local"
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int

	// Router size bands (rows)
	RouterSmallRows int // below: MEDIUM-eligible
	RouterLargeRows int // above: ADVANCED

	// Memory / orchestration
	SessionTTLHours    int
	RequestTimeoutSecs int
	IngestPolicy       string // overwrite | version

	// Server / storage
	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default base URLs and tier models, applied when the
// corresponding env vars are not set.
var llmProviderDefaults = map[string]struct {
	BaseURL  string
	Simple   string
	Advanced string
}{
	"openai": {
		BaseURL:  "https://api.openai.com/v1",
		Simple:   "gpt-4o-mini",
		Advanced: "gpt-4o",
	},
	"deepseek": {
		BaseURL:  "https://api.deepseek.com",
		Simple:   "deepseek-chat",
		Advanced: "deepseek-reasoner",
	},
	"siliconflow": {
		BaseURL:  "https://api.siliconflow.cn/v1",
		Simple:   "Qwen/Qwen2.5-7B-Instruct",
		Advanced: "Qwen/Qwen2.5-72B-Instruct",
	},
	"ollama": {
		BaseURL:  "http://localhost:11434/v1",
		Simple:   "llama3.1",
		Advanced: "llama3.1:70b",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true when an LLM API key is configured (local
// providers such as ollama do not require one).
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("DATASAGE_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("DATASAGE_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("DATASAGE_LLM_BASE_URL", "")
	p.LLMTimeout = getEnvOrDefaultInt("DATASAGE_LLM_TIMEOUT_SECONDS", 120)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("unknown LLM provider, using default: openai", "provider", p.LLMProvider)
		p.LLMProvider = "openai"
	}
	defaults := llmProviderDefaults[p.LLMProvider]
	if p.LLMBaseURL == "" {
		p.LLMBaseURL = defaults.BaseURL
	}

	// Tier bindings: cheap model covers SIMPLE and MEDIUM, capable model
	// covers COMPLEX and ADVANCED, unless overridden per tier.
	p.ModelSimple = getEnvOrDefault("DATASAGE_MODEL_SIMPLE", defaults.Simple)
	p.ModelMedium = getEnvOrDefault("DATASAGE_MODEL_MEDIUM", p.ModelSimple)
	p.ModelAdvanced = getEnvOrDefault("DATASAGE_MODEL_ADVANCED", defaults.Advanced)
	p.ModelComplex = getEnvOrDefault("DATASAGE_MODEL_COMPLEX", p.ModelAdvanced)

	p.EmbeddingProvider = getEnvOrDefault("DATASAGE_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("DATASAGE_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.EmbeddingAPIKey = getEnvOrDefault("DATASAGE_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("DATASAGE_EMBEDDING_BASE_URL", "https://api.siliconflow.cn/v1")
	p.EmbeddingDimensions = getEnvOrDefaultInt("DATASAGE_EMBEDDING_DIMENSIONS", 1024)

	p.RouterSmallRows = getEnvOrDefaultInt("DATASAGE_ROUTER_SMALL_ROWS", 10_000)
	p.RouterLargeRows = getEnvOrDefaultInt("DATASAGE_ROUTER_LARGE_ROWS", 100_000)

	p.SessionTTLHours = getEnvOrDefaultInt("DATASAGE_SESSION_TTL_HOURS", 24)
	p.RequestTimeoutSecs = getEnvOrDefaultInt("DATASAGE_REQUEST_TIMEOUT_SECONDS", 120)
	p.IngestPolicy = getEnvOrDefault("DATASAGE_INGEST_POLICY", "overwrite")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if a relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and fails on unusable configuration.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.EmbeddingDimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if p.IngestPolicy != "overwrite" && p.IngestPolicy != "version" {
		return errors.Errorf("unknown ingest policy %q (want overwrite or version)", p.IngestPolicy)
	}

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unknown database driver %q", p.Driver)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", "data", p.Data, "error", err)
			return err
		}
		p.Data = dataDir
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("datasage_%s.db", p.Mode))
	}

	return nil
}
