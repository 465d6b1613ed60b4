package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/hubbridge/hubbridge-backend/api/responses"
	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
)

const envHeader = "X-HubBridge-Env"

const readinessTimeout = 3 * time.Second

// Pinger checks a dependency's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and redis before reporting ready. Nil
// pingers are skipped so partial deployments still answer.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := []struct {
			name   string
			pinger Pinger
		}{
			{"database", dbP},
			{"redis", redisP},
		}
		for _, check := range checks {
			if check.pinger == nil {
				continue
			}
			if err := check.pinger.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, check.name+" not ready"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
