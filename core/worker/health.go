package worker

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/neadwerx/eventmanager/core/logger"
)

// statusQueryTimeout bounds how long a status request may wait for the
// worker's single connection while a handler transaction is in flight.
const statusQueryTimeout = 2 * time.Second

// Health is the worker's operational status.
type Health struct {
	EventQueue int64  `json:"event_queue"`
	WorkQueue  int64  `json:"work_queue"`
	Cyanaudit  bool   `json:"cyanaudit"`
	Version    string `json:"version"`
}

// Health returns the current queue depths. The depth queries share the
// handler's one pooled connection, so the wait is bounded: a long cycle
// fails the status request instead of hanging it.
func (w *Worker) Health() (Health, error) {
	health := Health{Cyanaudit: w.cyanaudit, Version: Version}

	ctx, cancel := context.WithTimeout(context.Background(), statusQueryTimeout)
	defer cancel()

	if err := w.db.QueryRowContext(ctx, w.sql.eventDepth).Scan(&health.EventQueue); err != nil {
		return health, err
	}
	if err := w.db.QueryRowContext(ctx, w.sql.workDepth).Scan(&health.WorkQueue); err != nil {
		return health, err
	}
	return health, nil
}

func (w *Worker) statusRouter() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		health, err := w.Health()
		if err != nil {
			logger.Default().WithError(err).Error("cannot query queue depths")
			http.Error(rw, "cannot query queue depths", http.StatusInternalServerError)
			return
		}
		data, _ := json.Marshal(health)
		rw.Header().Set("Content-Type", "application/json; charset=utf-8")
		rw.Write(data)
	}).Methods(http.MethodGet)
	return handlers.CombinedLoggingHandler(os.Stdout, router)
}

// ServeStatus exposes GET /health on addr. Purely operational; the
// endpoint performs no queue mutations and no authentication. The server
// is tracked on the worker and shut down by Close.
func (w *Worker) ServeStatus(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: w.statusRouter(),
	}
	w.status = srv
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Default().WithError(err).Error("status endpoint failed")
		}
	}()
	logger.Default().Infof("status endpoint on %s", addr)
	return srv
}
