// internal/wire/wire.go
package wire

import (
	"context"
	"net/http"
	"time"

	"rideshare-escrow/internal/adaptor"
	"rideshare-escrow/internal/chat"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/internal/usecase"
	"rideshare-escrow/pkg/middleware"
	"rideshare-escrow/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds the router and the services background workers need.
type App struct {
	Router  *chi.Mux
	Service *usecase.Service
}

// Wiring builds services, handlers and routes.
func Wiring(repo *repository.Repository, deps usecase.Dependencies, hub *chat.Hub, db Pinger, config *utils.Config, logger *zap.Logger) *App {
	service := usecase.NewService(repo, deps, config, logger)
	handler := adaptor.NewHandler(service, hub, logger)

	return &App{
		Router:  setupRouter(handler, db, config, logger),
		Service: service,
	}
}

// setupRouter configures the chi router
func setupRouter(handler *adaptor.Handler, db Pinger, config *utils.Config, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.CORS(config.App.CORSOrigins))

	auth := middleware.Auth(config.JWT.Secret, logger)

	// Apply routes
	wireJourney(r, handler.Journey, auth, logger)
	wireBooking(r, handler.Booking, auth, logger)
	wirePayment(r, handler.Payment, auth, logger)
	wireChat(r, handler.Chat, auth)

	r.Get("/health", health(db, logger))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func health(db Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logger.Error("Health check failed", zap.Error(err))
			utils.ResponseJSON(w, http.StatusServiceUnavailable, false, "database unreachable", nil, nil)
			return
		}
		utils.ResponseSuccess(w, "OK", nil)
	}
}
