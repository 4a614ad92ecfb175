package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/internal/version"
)

// dataVersionFile records the release that last opened the data directory.
const dataVersionFile = ".recall-version"

// Profile is configuration to start the memory engine.
// It is read once at startup; per-component configs are derived from it and
// never live-patched afterwards (changing them requires recreating the
// affected pipelines).
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol)
	// All providers (siliconflow, dashscope, openai, ollama) use the same config
	EmbeddingProvider   string // Provider identifier: siliconflow, dashscope, openai, ollama, local
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int // 0 = take the dimension from the first stored vector
	EmbeddingCacheSize  int // memoization cap, default 1000
	EmbeddingTimeout    int // Request timeout in seconds (default: 10)

	// Local embedding model (ONNX), used when EmbeddingProvider == "local"
	LocalModelPath     string
	LocalTokenizerPath string

	// Reranker configuration
	RerankProvider string
	RerankModel    string
	RerankAPIKey   string
	RerankBaseURL  string
	RerankEnabled  bool

	// Completion LLM, used only by the importance classifier override
	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMTimeout  int // Request timeout in seconds (default: 30)

	// Retrieval configuration
	TopK int // default number of memories returned per query

	// Hybrid fallback weights. Empirical defaults carried from long-running
	// deployments; unverified, hence configurable.
	FallbackTimeWeight    float64
	FallbackTurnWeight    float64
	FallbackMatchWeight   float64
	FallbackQualityWeight float64
	FallbackDecayRate     float64 // per hour

	// Other configurations
	Mode    string // demo, dev, prod
	Data    string // data directory holding per-scope store files
	Version string
}

// Provider default configurations for embedding.
// Used when RECALL_EMBEDDING_BASE_URL is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "text-embedding-v3",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsRemoteEmbeddingEnabled returns true if a remote embedding API is configured.
func (p *Profile) IsRemoteEmbeddingEnabled() bool {
	return p.EmbeddingProvider != "local" && p.EmbeddingAPIKey != ""
}

// IsLLMEnabled returns true if the completion LLM override is configured.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Embedding configuration
	p.EmbeddingProvider = getEnvOrDefault("RECALL_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("RECALL_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("RECALL_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("RECALL_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("RECALL_EMBEDDING_DIMENSIONS", 0)
	p.EmbeddingCacheSize = getEnvOrDefaultInt("RECALL_EMBEDDING_CACHE_SIZE", 1000)
	p.EmbeddingTimeout = getEnvOrDefaultInt("RECALL_EMBEDDING_TIMEOUT_SECONDS", 10)

	if p.EmbeddingProvider != "local" {
		if _, ok := embeddingProviderDefaults[p.EmbeddingProvider]; !ok {
			slog.Warn("Unknown embedding provider, using default: siliconflow", "provider", p.EmbeddingProvider)
			p.EmbeddingProvider = "siliconflow"
		}
		if defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]; ok {
			if p.EmbeddingBaseURL == "" {
				p.EmbeddingBaseURL = defaults.BaseURL
			}
			if p.EmbeddingModel == "" {
				p.EmbeddingModel = defaults.Model
			}
		}
	}

	// Local model configuration
	p.LocalModelPath = getEnvOrDefault("RECALL_LOCAL_MODEL_PATH", "")
	p.LocalTokenizerPath = getEnvOrDefault("RECALL_LOCAL_TOKENIZER_PATH", "")

	// Reranker configuration
	p.RerankProvider = getEnvOrDefault("RECALL_RERANK_PROVIDER", "siliconflow")
	p.RerankModel = getEnvOrDefault("RECALL_RERANK_MODEL", "BAAI/bge-reranker-v2-m3")
	p.RerankAPIKey = getEnvOrDefault("RECALL_RERANK_API_KEY", "")
	p.RerankBaseURL = getEnvOrDefault("RECALL_RERANK_BASE_URL", "https://api.siliconflow.cn/v1")
	p.RerankEnabled = getEnvOrDefault("RECALL_RERANK_ENABLED", "false") == "true"

	// Completion LLM configuration
	p.LLMProvider = getEnvOrDefault("RECALL_LLM_PROVIDER", "siliconflow")
	p.LLMModel = getEnvOrDefault("RECALL_LLM_MODEL", "Qwen/Qwen2.5-7B-Instruct")
	p.LLMAPIKey = getEnvOrDefault("RECALL_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("RECALL_LLM_BASE_URL", "https://api.siliconflow.cn/v1")
	p.LLMTimeout = getEnvOrDefaultInt("RECALL_LLM_TIMEOUT_SECONDS", 30)

	// Retrieval configuration
	p.TopK = getEnvOrDefaultInt("RECALL_TOP_K", 5)

	// Hybrid fallback weights
	p.FallbackTimeWeight = getEnvOrDefaultFloat("RECALL_FALLBACK_TIME_WEIGHT", 0.4)
	p.FallbackTurnWeight = getEnvOrDefaultFloat("RECALL_FALLBACK_TURN_WEIGHT", 0.25)
	p.FallbackMatchWeight = getEnvOrDefaultFloat("RECALL_FALLBACK_MATCH_WEIGHT", 0.15)
	p.FallbackQualityWeight = getEnvOrDefaultFloat("RECALL_FALLBACK_QUALITY_WEIGHT", 0.2)
	p.FallbackDecayRate = getEnvOrDefaultFloat("RECALL_FALLBACK_DECAY_RATE", 0.05)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// checkDataVersion refuses a data directory last opened by a newer release
// (its files may use a layout this build cannot read) and stamps the current
// version otherwise. A profile without a version skips the check.
func (p *Profile) checkDataVersion() error {
	if p.Version == "" {
		return nil
	}

	path := filepath.Join(p.Data, dataVersionFile)
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unable to read data version marker %s", path)
	}

	recorded := strings.TrimSpace(string(raw))
	if recorded != "" {
		if !version.IsVersionGreaterOrEqualThan(p.Version, recorded) {
			return errors.Errorf("data directory %s was last opened by release %s, this build is %s", p.Data, recorded, p.Version)
		}
		if version.GetMinorVersion(recorded) != version.GetMinorVersion(p.Version) {
			slog.Info("data directory carried over from an older release line",
				slog.String("recorded", recorded), slog.String("running", p.Version))
		}
	}

	return os.WriteFile(path, []byte(p.Version+"\n"), 0o644)
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/recall"
		if _, err := os.Stat(p.Data); os.IsNotExist(err) {
			if err := os.MkdirAll(p.Data, 0770); err != nil {
				slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data directory", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if err := p.checkDataVersion(); err != nil {
		return err
	}

	if p.EmbeddingProvider == "local" && p.LocalModelPath == "" {
		return errors.New("local embedding provider requires RECALL_LOCAL_MODEL_PATH")
	}

	// Weights must stay a usable combination; reset to defaults rather than
	// failing so a typo in one env var cannot disable retrieval.
	sum := p.FallbackTimeWeight + p.FallbackTurnWeight + p.FallbackMatchWeight + p.FallbackQualityWeight
	if sum <= 0 {
		slog.Warn("invalid fallback weights, using defaults", "sum", sum)
		p.FallbackTimeWeight = 0.4
		p.FallbackTurnWeight = 0.25
		p.FallbackMatchWeight = 0.15
		p.FallbackQualityWeight = 0.2
	}
	if p.FallbackDecayRate <= 0 {
		p.FallbackDecayRate = 0.05
	}

	return nil
}
