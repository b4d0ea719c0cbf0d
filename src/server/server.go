package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"fleetadmin/src/auth"
	"fleetadmin/src/connectors"
	"fleetadmin/src/handler"
	appmiddleware "fleetadmin/src/middleware"
	"fleetadmin/src/noise"
	"fleetadmin/src/repository"
	"fleetadmin/src/tracking"
)

// Dependencies bundles the wired application components so routes can be
// built the same way in production and in tests.
type Dependencies struct {
	Tracking *tracking.Service
	Errors   *repository.TrackedErrorRepository
	Users    *repository.GormUserRepository
	Feed     *handler.LiveFeed
	Boundary *appmiddleware.Boundary
}

// BuildDependencies wires the error-tracking engine against the main
// database and the configured external collaborators.
func BuildDependencies() *Dependencies {
	connectorCfg := connectors.GetConfig()

	errorRepo := repository.NewTrackedErrorRepository()
	ticketRepo := repository.NewTicketRepository()
	userRepo := repository.NewUserRepository()

	svc := tracking.NewService(
		logger.StandardLogger().WithField("component", "tracking"),
		errorRepo,
		ticketRepo,
		userRepo,
		noise.NewFilter(nil),
		connectors.NewIssueTrackerClient(connectorCfg),
		connectors.NewMailerClient(connectorCfg),
		tracking.GetConfig(),
	)

	feed := handler.NewLiveFeed()
	svc.SetPublisher(feed.Publish)

	return &Dependencies{
		Tracking: svc,
		Errors:   errorRepo,
		Users:    userRepo,
		Feed:     feed,
		Boundary: appmiddleware.NewBoundary(svc),
	}
}

// NewRouter builds the route tree. The error boundary wraps everything;
// admin routes additionally require an API key.
func NewRouter(deps *Dependencies) chi.Router {
	r := chi.NewRouter()

	// === Global Middleware ===
	r.Use(deps.Boundary.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAPIKey(deps.Users))

		r.Get("/errors", handler.ListErrorsHandler(deps.Errors))
		r.Get("/errors/{id}", handler.ErrorDetailHandler(deps.Errors))
		r.Get("/errors/stats", handler.ErrorStatsHandler(deps.Tracking))
		r.Post("/errors/{id}/resolve", handler.ResolveErrorHandler(deps.Tracking))
		r.Get("/errors/live", deps.Feed.ServeHTTP)

		r.Put("/account", handler.UpdateProfileHandler(deps.Users))
		r.Post("/account/api-key", handler.RotateAPIKeyHandler(deps.Users))
	})

	return r
}

func StartServer(port string) {
	if port == "" {
		port = GetConfig().Port
	}

	deps := BuildDependencies()
	r := NewRouter(deps)

	// Graceful server
	// Server setup
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
