package config

import (
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	Env        string
	CatalogDir string

	// ResultStoreDSN is optional; without it the API runs on the in-memory
	// result store and reconstruction only covers the current process.
	ResultStoreDSN string

	Judge JudgeConfig
}

type JudgeConfig struct {
	Kind         string // gemini, openai, fake
	Model        string
	GeminiAPIKey string
	OpenAIAPIKey string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	catalogDir := flag.String("catalog", "catalog", "path to the norm catalog directory")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}
	if dir := strings.TrimSpace(os.Getenv("CATALOG_DIR")); dir != "" {
		*catalogDir = dir
	}

	judgeKind := strings.TrimSpace(os.Getenv("JUDGE"))
	if judgeKind == "" {
		judgeKind = "fake"
	}

	return &Config{
		Port:           *port,
		Env:            env,
		CatalogDir:     *catalogDir,
		ResultStoreDSN: strings.TrimSpace(os.Getenv("RESULT_STORE_PG_DSN")),
		Judge: JudgeConfig{
			Kind:         judgeKind,
			Model:        strings.TrimSpace(os.Getenv("JUDGE_MODEL")),
			GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			OpenAIAPIKey: strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		},
	}, nil
}
