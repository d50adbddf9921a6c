package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	JWTSecret    string
	Port         string

	// LLM providers
	LLMProvider     string // gemini | openai | mock
	GeminiAPIKey    string
	OpenAIAPIKey    string
	GenModel        string
	ValidateModel   string
	FallbackModel   string
	EmbedModel      string
	EmbedDim        int
	LLMMaxRetries   int
	LLMMinBackoffMs int
	LLMMaxBackoffMs int

	// process-wide request throttle (sliding window)
	RateLimitRequests  int
	RateLimitWindowSec int
	RateLimitTokens    int

	// extraction
	MaxPDFPages        int
	MinExtractionWords int
	MinValidTextLen    int
	OCRLanguages       string
	OCRDPI             int
	OCRDPIImageHeavy   int

	// chunking
	ChunkSize       int
	ChunkOverlap    float64
	ChunkMode       string // fixed | semantic
	MaxChunkedChars int    // material beyond this is truncated before chunking

	// retrieval
	RAGEnabled          bool
	RAGMinChunks        int
	RAGTopK             int
	RAGOutlineMaxChunks int

	// generation
	MCQWorkers        int
	MCQCandidateExtra int
	MaxTargetCount    int

	// orchestration
	MaxConcurrentGenerations int
	BaseStaleTimeoutSec      int
	HeartbeatIntervalSec     int
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "ap-south-1"),
		BucketName:   getEnv("BUCKET_NAME", "examsetu-docs"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		Port:         getEnv("PORT", "8080"),

		LLMProvider:     getEnv("LLM_PROVIDER", "gemini"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		GenModel:        getEnv("GEN_MODEL", "gemini-1.5-flash"),
		ValidateModel:   getEnv("VALIDATE_MODEL", "gemini-1.5-flash"),
		FallbackModel:   getEnv("FALLBACK_MODEL", "gpt-4o-mini"),
		EmbedModel:      getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:        getEnvInt("EMBED_DIM", 768),
		LLMMaxRetries:   getEnvInt("LLM_MAX_RETRIES", 3),
		LLMMinBackoffMs: getEnvInt("LLM_MIN_BACKOFF_MS", 2000),
		LLMMaxBackoffMs: getEnvInt("LLM_MAX_BACKOFF_MS", 60000),

		RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindowSec: getEnvInt("RATE_LIMIT_WINDOW_SEC", 60),
		RateLimitTokens:    getEnvInt("RATE_LIMIT_INPUT_TOKENS", 25000),

		MaxPDFPages:        getEnvInt("MAX_PDF_PAGES", 300),
		MinExtractionWords: getEnvInt("MIN_EXTRACTION_WORDS", 500),
		MinValidTextLen:    getEnvInt("MIN_VALID_TEXT_LEN", 500),
		OCRLanguages:       getEnv("OCR_LANGUAGES", "eng+hin"),
		OCRDPI:             getEnvInt("OCR_DPI", 300),
		OCRDPIImageHeavy:   getEnvInt("OCR_DPI_IMAGE_HEAVY", 350),

		ChunkSize:       getEnvInt("CHUNK_SIZE", 1500),
		ChunkOverlap:    getEnvFloat("CHUNK_OVERLAP_FRACTION", 0.2),
		ChunkMode:       getEnv("CHUNK_MODE", "semantic"),
		MaxChunkedChars: getEnvInt("MAX_CHUNKED_CHARS", 600000),

		RAGEnabled:          getEnvBool("RAG_ENABLED", true),
		RAGMinChunks:        getEnvInt("RAG_MIN_CHUNKS_FOR_GLOBAL", 20),
		RAGTopK:             getEnvInt("RAG_TOP_K", 5),
		RAGOutlineMaxChunks: getEnvInt("RAG_OUTLINE_MAX_CHUNKS", 10),

		MCQWorkers:        getEnvInt("MCQ_WORKERS", 4),
		MCQCandidateExtra: getEnvInt("MCQ_CANDIDATE_EXTRA", 2),
		MaxTargetCount:    getEnvInt("MAX_TARGET_QUESTIONS", 20),

		MaxConcurrentGenerations: getEnvInt("MAX_CONCURRENT_GENERATIONS", 3),
		BaseStaleTimeoutSec:      getEnvInt("MAX_STALE_GENERATION_SECONDS", 1200),
		HeartbeatIntervalSec:     getEnvInt("HEARTBEAT_INTERVAL_SEC", 15),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}
