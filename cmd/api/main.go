package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"normgate/internal/catalog"
	"normgate/internal/config"
	"normgate/internal/judge"
	"normgate/internal/resultstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		log.Fatalf("loading catalog from %s: %v", cfg.CatalogDir, err)
	}
	log.Printf("catalog loaded: %d norms", len(cat.Norms()))

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("opening result store: %v", err)
	}
	defer store.Close()

	oracle, err := buildJudge(context.Background(), cfg.Judge)
	if err != nil {
		log.Fatalf("building judge: %v", err)
	}
	defer oracle.Close()
	log.Printf("judge: %s", oracle.Name())

	s := newAPIServer(cat, store, oracle)
	h := withCORS(buildMux(s))

	log.Printf("Starting API server on %s", cfg.Port)
	log.Fatal(http.ListenAndServe(cfg.Port, h))
}

func openStore(cfg *config.Config) (resultstore.Store, error) {
	if cfg.ResultStoreDSN == "" {
		log.Printf("no result store DSN; using in-memory store")
		return resultstore.NewMemoryStore(), nil
	}
	return resultstore.NewPostgres(cfg.ResultStoreDSN)
}

func buildJudge(ctx context.Context, cfg config.JudgeConfig) (judge.Judge, error) {
	switch cfg.Kind {
	case "gemini":
		return judge.NewGeminiJudge(ctx, cfg.GeminiAPIKey, cfg.Model)
	case "openai":
		return judge.NewOpenAIJudge(cfg.OpenAIAPIKey, cfg.Model)
	case "fake":
		return judge.NewFakeJudge(false), nil
	default:
		return nil, fmt.Errorf("unknown judge kind %q", cfg.Kind)
	}
}

// Simple CORS middleware
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
