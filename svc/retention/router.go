package retention

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightkit/billing/core"
	"github.com/brightkit/billing/pkg/logger"
)

// NewRouter exposes a manual sweep trigger. Mount under /retention.
// The scheduled runner covers normal operation; the endpoint exists for
// support runs after fixing bad data.
func NewRouter(sweeper *Sweeper, log *slog.Logger) http.Handler {
	if sweeper == nil {
		panic("retention: sweeper is required")
	}
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Post("/sweep", func(w http.ResponseWriter, req *http.Request) {
		report, err := sweeper.Run(req.Context())
		if err != nil {
			log.ErrorContext(req.Context(), "manual retention sweep failed", logger.Error(err))
			core.JSONError(w, err)
			return
		}
		core.JSON(w, http.StatusOK, report)
	})
	return r
}
