package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	api "github.com/certhub/certhub-platform/internal/api/http"
	"github.com/certhub/certhub-platform/internal/audit"
	auth "github.com/certhub/certhub-platform/internal/auth/middleware"
	"github.com/certhub/certhub-platform/internal/clock"
	"github.com/certhub/certhub-platform/internal/config"
	"github.com/certhub/certhub-platform/internal/db"
	"github.com/certhub/certhub-platform/internal/exam"
	"github.com/certhub/certhub-platform/internal/rbac"
	"github.com/certhub/certhub-platform/internal/storage"
	"github.com/certhub/certhub-platform/internal/training"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	clk := clock.SystemClock{}
	store := exam.NewSQLStore(dbh, cfg.DBDriver)
	completions := training.NewSQLCompletions(dbh)
	scorer := exam.NewScorer(cfg.PassThreshold)
	svc := exam.NewService(store, store, completions, scorer, clk, cfg.ShuffleQuestions)
	svc.SetAuditLog(audit.NewSQLLog(dbh))

	assets, err := storage.NewFSStore(cfg.AssetDir)
	if err != nil {
		log.Fatalf("asset store: %v", err)
	}

	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh, cfg.AdminUser, cfg.AdminPassHash))
	r.Get("/time", api.ServerTimeHandler(clk))

	// Protected API (JWT -> subject+role in context -> RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.With(rbac.Require("exam:publish")).
			Put("/exams", api.PutExamHandler(store))
		pr.Get("/exams", api.ListExamsHandler(store))
		pr.Route("/assets", func(ar chi.Router) { api.MountAssets(ar, assets) })

		pr.With(rbac.Require("attempt:create")).
			Post("/exams/{examID}/attempts", api.StartAttemptHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(svc))
		pr.With(rbac.Require("attempt:save")).
			Put("/attempts/{attemptID}/answers/{questionID}", api.RecordAnswerHandler(svc))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	// Best-effort settlement of attempts nobody polls again. Request paths
	// enforce expiry on their own.
	if cfg.SweepInterval > 0 {
		sweeper := exam.NewSweeper(svc, store, clk, cfg.SweepInterval)
		go sweeper.Run(context.Background())
	}

	log.Printf("listening on %s (db=%s)", cfg.HTTPAddr, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
