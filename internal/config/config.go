// Package config loads engine configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/longscribe/engine/internal/backend/embedder"
	"github.com/longscribe/engine/internal/backend/llm"
	"github.com/longscribe/engine/internal/backend/vadnet"
	"github.com/longscribe/engine/internal/backend/vlm"
	"github.com/longscribe/engine/internal/backend/whisper"
	"github.com/longscribe/engine/internal/cluster"
	"github.com/longscribe/engine/internal/pipeline"
	"github.com/longscribe/engine/internal/report"
)

type Config struct {
	// Inference backend addresses.
	WhisperURL string
	VADURL     string
	EmbedURL   string
	OllamaURL  string

	// Device is forwarded to the speech backend ("auto", "cpu", "cuda").
	Device string

	// Model defaults; per-command model fields override these.
	ScanModel       string
	TranscribeModel string
	EmbedModel      string
	VLMModel        string

	GapThreshold float64
	VADThreshold float64
	ReportPath   string

	// WebSocket transport address for server mode.
	ListenAddr string

	LogFile  string // empty disables the rotating file handler
	LogLevel string
}

// Load reads configuration from the environment, after merging any .env file
// in the working directory. Missing keys fall back to the package defaults of
// the component they configure.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		WhisperURL: getEnv("WHISPER_URL", whisper.DefaultURL),
		VADURL:     getEnv("VAD_URL", vadnet.DefaultURL),
		EmbedURL:   getEnv("EMBED_URL", embedder.DefaultURL),
		OllamaURL:  getEnv("OLLAMA_URL", llm.DefaultOllamaURL),

		Device: getEnv("DEVICE", "auto"),

		ScanModel:       getEnv("SCAN_MODEL", pipeline.ScanModel),
		TranscribeModel: getEnv("TRANSCRIBE_MODEL", pipeline.DefaultTranscribeModel),
		EmbedModel:      getEnv("EMBED_MODEL", embedder.DefaultModel),
		VLMModel:        getEnv("VLM_MODEL", vlm.DefaultModel),

		GapThreshold: getEnvFloat("GAP_THRESHOLD", cluster.DefaultGapThreshold),
		VADThreshold: getEnvFloat("VAD_THRESHOLD", pipeline.DefaultVADThreshold),
		ReportPath:   getEnv("REPORT_PATH", report.DefaultFileName),

		ListenAddr: getEnv("LISTEN_ADDR", ":8390"),

		LogFile:  getEnv("LOG_FILE", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
