package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Keys     APIKeys
	Ai       AIConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	RagLogFilePath     string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DatabaseConfig struct {
	Connection string
}

type APIKeys struct {
	Fireworks string
}

type AIConfig struct {
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	SummaryModel   string

	// Retrieval parameters
	KDocs              int
	KMsgs              int
	KMems              int
	LastN              int
	RelevanceThreshold float64

	// Temperature per task type
	TempFact     float64
	TempTeach    float64
	TempCreative float64
	TempSummary  float64

	// Generation parameters
	MaxTokens        int
	MaxTokensSummary int
	TopP             float64

	// Retry and timeout settings
	EmbedMaxRetries int
	TimeoutMs       int

	// Verification settings
	MinSupportScore float64

	// Summarization rollup
	SummarizeEveryNTurns int
}

// Load builds the configuration once at process start. The returned struct is
// treated as immutable and passed into each component's constructor.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	cfg := &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			RagLogFilePath:     getEnv("RAG_LOG_FILE_PATH", "logs/llm_rag.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Keys: APIKeys{
			Fireworks: getEnv("FIREWORKS_API_KEY", ""),
		},
		Ai: AIConfig{
			BaseURL:        getEnv("FIREWORKS_BASE_URL", "https://api.fireworks.ai/inference/v1"),
			EmbeddingModel: getEnv("FIREWORKS_EMBEDDINGS_MODEL", "nomic-ai/nomic-embed-text-v1.5"),
			ChatModel:      getEnv("FIREWORKS_CHAT_MODEL", "accounts/fireworks/models/llama-v3p1-70b-instruct"),
			SummaryModel:   getEnv("FIREWORKS_SUMMARY_MODEL", "accounts/fireworks/models/llama-v3p1-70b-instruct"),

			KDocs:              getEnvAsInt("K_DOCS", 12),
			KMsgs:              getEnvAsInt("K_MSGS", 3),
			KMems:              getEnvAsInt("K_MEMS", 2),
			LastN:              getEnvAsInt("LAST_N", 12),
			RelevanceThreshold: getEnvAsFloat("RELEVANCE_THRESHOLD", 0.25),

			TempFact:     getEnvAsFloat("TEMP_FACT", 0.1),
			TempTeach:    getEnvAsFloat("TEMP_TEACH", 0.4),
			TempCreative: getEnvAsFloat("TEMP_CREATIVE", 0.7),
			TempSummary:  getEnvAsFloat("TEMP_SUMMARY", 0.3),

			MaxTokens:        getEnvAsInt("MAX_TOKENS", 2500),
			MaxTokensSummary: getEnvAsInt("MAX_TOKENS_SUMMARY", 4000),
			TopP:             getEnvAsFloat("TOP_P", 0.9),

			EmbedMaxRetries: getEnvAsInt("EMBED_MAX_RETRIES", 3),
			TimeoutMs:       getEnvAsInt("TIMEOUT_MS", 30000),

			MinSupportScore: getEnvAsFloat("MIN_SUPPORT_SCORE", 0.3),

			SummarizeEveryNTurns: getEnvAsInt("SUMMARIZE_EVERY_N_TURNS", 12),
		},
	}

	if err := cfg.Ai.validate(); err != nil {
		log.Fatalf("AI configuration error: %v", err)
	}

	return cfg
}

// validate rejects out-of-range values early so the pipeline never has to
// defend against a nonsense threshold or temperature at request time.
func (a AIConfig) validate() error {
	var errs []string

	if a.RelevanceThreshold < 0 || a.RelevanceThreshold > 1 {
		errs = append(errs, "RELEVANCE_THRESHOLD must be between 0 and 1")
	}
	for name, temp := range map[string]float64{
		"TEMP_FACT":     a.TempFact,
		"TEMP_TEACH":    a.TempTeach,
		"TEMP_CREATIVE": a.TempCreative,
		"TEMP_SUMMARY":  a.TempSummary,
	} {
		if temp < 0 || temp > 2 {
			errs = append(errs, name+" must be between 0 and 2")
		}
	}
	if a.TopP < 0 || a.TopP > 1 {
		errs = append(errs, "TOP_P must be between 0 and 1")
	}
	if a.KDocs < 1 || a.KDocs > 50 {
		errs = append(errs, "K_DOCS must be between 1 and 50")
	}
	if a.KMsgs < 1 || a.KMsgs > 20 {
		errs = append(errs, "K_MSGS must be between 1 and 20")
	}
	if a.KMems < 1 || a.KMems > 10 {
		errs = append(errs, "K_MEMS must be between 1 and 10")
	}
	if a.MaxTokens < 100 || a.MaxTokens > 8000 {
		errs = append(errs, "MAX_TOKENS must be between 100 and 8000")
	}
	if a.MaxTokensSummary < 100 || a.MaxTokensSummary > 10000 {
		errs = append(errs, "MAX_TOKENS_SUMMARY must be between 100 and 10000")
	}
	if a.MinSupportScore < 0 || a.MinSupportScore > 1 {
		errs = append(errs, "MIN_SUPPORT_SCORE must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}
