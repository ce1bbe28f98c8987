package main

import (
	"net/http"

	"neuroscreen-go/internal/api"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/logging"
	"neuroscreen-go/internal/service"
	"neuroscreen-go/internal/state"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

func main() {
	settings := config.FromEnv()
	logging.Init(settings.LogLevel, false)

	calibration, err := config.Load(settings.CalibrationPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load calibration")
	}

	// Initialize Services
	pipeline := service.NewPipeline(calibration)
	cases := state.NewRegistry()

	// Initialize Handler
	handler := api.NewHandler(pipeline, cases, settings)

	// Router Setup
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(settings.MaxUploadBytes * 2))

	// CORS - Allow frontend
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: settings.AllowedOrigins,

		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Root endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Neuroscreen diagnostic pipeline is running"))
	})

	// Register all API Routes
	handler.RegisterRoutes(r)

	log.Info().
		Str("port", settings.Port).
		Strs("cors", settings.AllowedOrigins).
		Str("calibration", settings.CalibrationPath).
		Msg("starting server")

	if err := http.ListenAndServe(":"+settings.Port, r); err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}
