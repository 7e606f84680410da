package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/auth/token"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/catalog"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/config"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/db"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/proxy/handlers"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/proxy/monitor"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/upstream"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/version"
)

func main() {
	cfg := config.FromEnv()

	if err := catalog.InitFromEnvAndConfig(); err != nil {
		log.Printf("⚠️ Model catalog config not loaded, using defaults: %v", err)
	}

	tokens := token.NewCache(cfg.ClientID, cfg.ClientSecret, cfg.ProjectIDOverride)
	upstreamClient := upstream.NewClient()

	deps := handlers.Deps{
		Config:   &cfg,
		Tokens:   tokens,
		Upstream: upstreamClient,
	}

	var pm *monitor.ProxyMonitor
	if cfg.MonitorEnabled {
		database, err := db.InitDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		pm = monitor.NewProxyMonitor(database)
		pm.SetEnabled(true)
		deps.Monitor = pm
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	chat := handlers.ChatCompletions(deps)
	models := handlers.ListModels()

	r.Get("/", handlers.Health())
	r.Get("/metrics", handlers.Metrics(tokens))

	r.Post("/chat/completions", chat)
	r.Get("/models", models)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", chat)
		r.Get("/models", models)
	})

	if pm != nil {
		r.Route("/monitor", func(r chi.Router) {
			r.Get("/logs", handlers.MonitorLogs(pm))
			r.Get("/stats", handlers.MonitorStats(pm))
		})
	}

	addr := ":" + cfg.Port
	log.Printf("🚀 antigravity-openai-proxy %s starting on http://localhost:%s", version.Version, cfg.Port)
	log.Printf("🔌 OpenAI API: http://localhost:%s/v1", cfg.Port)
	if pm != nil {
		log.Printf("📊 Monitor: http://localhost:%s/monitor/stats", cfg.Port)
	}

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
