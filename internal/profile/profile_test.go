package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"EmbeddingProvider default", "siliconflow", profile.EmbeddingProvider},
		{"EmbeddingModel default", "BAAI/bge-m3", profile.EmbeddingModel},
		{"EmbeddingBaseURL default", "https://api.siliconflow.cn/v1", profile.EmbeddingBaseURL},
		{"RerankModel default", "BAAI/bge-reranker-v2-m3", profile.RerankModel},
		{"LLMModel default", "Qwen/Qwen2.5-7B-Instruct", profile.LLMModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.TopK != 5 {
		t.Errorf("TopK default: expected 5, got %d", profile.TopK)
	}
	if profile.EmbeddingCacheSize != 1000 {
		t.Errorf("EmbeddingCacheSize default: expected 1000, got %d", profile.EmbeddingCacheSize)
	}
	if profile.FallbackTimeWeight != 0.4 || profile.FallbackTurnWeight != 0.25 ||
		profile.FallbackMatchWeight != 0.15 || profile.FallbackQualityWeight != 0.2 {
		t.Errorf("fallback weight defaults wrong: %v/%v/%v/%v",
			profile.FallbackTimeWeight, profile.FallbackTurnWeight,
			profile.FallbackMatchWeight, profile.FallbackQualityWeight)
	}
	if profile.FallbackDecayRate != 0.05 {
		t.Errorf("FallbackDecayRate default: expected 0.05, got %v", profile.FallbackDecayRate)
	}
}

func TestFromEnvProviderDefaults(t *testing.T) {
	tests := []struct {
		name          string
		provider      string
		expectedURL   string
		expectedModel string
	}{
		{"siliconflow", "siliconflow", "https://api.siliconflow.cn/v1", "BAAI/bge-m3"},
		{"dashscope", "dashscope", "https://dashscope.aliyuncs.com/compatible-mode/v1", "text-embedding-v3"},
		{"openai", "openai", "https://api.openai.com/v1", "text-embedding-3-small"},
		{"ollama", "ollama", "http://localhost:11434/v1", "nomic-embed-text"},
		{"unknown falls back to siliconflow", "whatever", "https://api.siliconflow.cn/v1", "BAAI/bge-m3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv("RECALL_EMBEDDING_PROVIDER", tt.provider)

			profile := &Profile{}
			profile.FromEnv()

			if profile.EmbeddingBaseURL != tt.expectedURL {
				t.Errorf("base url: expected %q, got %q", tt.expectedURL, profile.EmbeddingBaseURL)
			}
			if profile.EmbeddingModel != tt.expectedModel {
				t.Errorf("model: expected %q, got %q", tt.expectedModel, profile.EmbeddingModel)
			}
		})
	}
}

func TestValidateResetsBadWeights(t *testing.T) {
	clearEnvVars()

	profile := &Profile{Data: t.TempDir()}
	profile.FromEnv()
	profile.FallbackTimeWeight = 0
	profile.FallbackTurnWeight = 0
	profile.FallbackMatchWeight = 0
	profile.FallbackQualityWeight = 0
	profile.FallbackDecayRate = -1

	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if profile.FallbackTimeWeight != 0.4 || profile.FallbackDecayRate != 0.05 {
		t.Errorf("invalid weights should reset to defaults, got %v / %v",
			profile.FallbackTimeWeight, profile.FallbackDecayRate)
	}
}

func TestValidateStampsDataVersion(t *testing.T) {
	clearEnvVars()
	dir := t.TempDir()

	profile := &Profile{Data: dir, Version: "1.2.3"}
	profile.FromEnv()
	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, dataVersionFile))
	if err != nil {
		t.Fatalf("read version marker: %v", err)
	}
	if got := strings.TrimSpace(string(raw)); got != "1.2.3" {
		t.Errorf("version marker: expected %q, got %q", "1.2.3", got)
	}
}

func TestValidateRejectsNewerDataVersion(t *testing.T) {
	clearEnvVars()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, dataVersionFile), []byte("99.0.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	profile := &Profile{Data: dir, Version: "0.0.0-dev"}
	profile.FromEnv()
	if err := profile.Validate(); err == nil {
		t.Error("expected an error for a data directory written by a newer release")
	}
}

func TestValidateLocalProviderRequiresModelPath(t *testing.T) {
	clearEnvVars()

	profile := &Profile{Data: t.TempDir()}
	profile.FromEnv()
	profile.EmbeddingProvider = "local"
	profile.LocalModelPath = ""

	if err := profile.Validate(); err == nil {
		t.Error("expected an error for local provider without a model path")
	}
}

func clearEnvVars() {
	suffixes := []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_BASE_URL",
		"EMBEDDING_DIMENSIONS", "EMBEDDING_CACHE_SIZE", "EMBEDDING_TIMEOUT_SECONDS",
		"LOCAL_MODEL_PATH", "LOCAL_TOKENIZER_PATH",
		"RERANK_PROVIDER", "RERANK_MODEL", "RERANK_API_KEY", "RERANK_BASE_URL", "RERANK_ENABLED",
		"LLM_PROVIDER", "LLM_MODEL", "LLM_API_KEY", "LLM_BASE_URL", "LLM_TIMEOUT_SECONDS",
		"TOP_K",
		"FALLBACK_TIME_WEIGHT", "FALLBACK_TURN_WEIGHT", "FALLBACK_MATCH_WEIGHT",
		"FALLBACK_QUALITY_WEIGHT", "FALLBACK_DECAY_RATE",
	}
	for _, suffix := range suffixes {
		os.Unsetenv("RECALL_" + suffix)
	}
}
