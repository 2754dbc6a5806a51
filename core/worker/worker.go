// Package worker implements the event_manager queue worker: the
// notification loop, the event and work queue handlers, and the action
// dispatcher that runs templated queries or remote HTTP calls on behalf
// of queue items.
package worker

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/neadwerx/eventmanager/core/csql"
	"github.com/neadwerx/eventmanager/core/logger"
)

// DefaultExtensionName is the database extension the worker drains
// queues for. The extension's installation schema qualifies every queue
// table and GUC.
const DefaultExtensionName = "event_manager"

// Notification channels raised by the extension's triggers. The payload
// is only a wake signal; claims come from the database.
const (
	EventQueueChannel = "new_event_queue_item"
	WorkQueueChannel  = "new_work_queue_item"
)

const setUIDFunctionGUC = "set_uid_function"

// Worker owns the resources of one queue worker process: the single
// database connection, the long-lived HTTP client, the cyanaudit
// integration flag and the signal flags. One Worker serves exactly one
// queue.
type Worker struct {
	db         *csql.DB
	conninfo   string
	httpClient *http.Client
	userAgent  string
	cyanaudit  bool
	mirror     *Mirror
	status     *http.Server
	sql        queries
	reload     atomic.Bool
}

// Builder assembles a Worker.
type Builder struct {
	// DB is the postgres handle. This is mandatory.
	DB *csql.DB
	// Conninfo is the connection descriptor, reused by the notification
	// listener for its own connection. This is mandatory.
	Conninfo string
	// ExtensionName overrides the extension probed for at startup.
	ExtensionName string
	// UserAgent overrides the HTTP user agent.
	UserAgent string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	// Mirror, when set, receives a processing-log record per item.
	Mirror *Mirror
}

// New probes the database for the extension and the optional cyanaudit
// integration, then returns a ready worker. A missing extension is an
// error; the caller decides that it is fatal.
func New(bb *Builder) (*Worker, error) {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Conninfo == "" {
		panic("Conninfo is missing")
	}

	extension := bb.ExtensionName
	if extension == "" {
		extension = DefaultExtensionName
	}

	schema, err := probeExtension(bb.DB, extension)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugf("extension %s installed in schema %s", extension, schema)

	w := &Worker{
		db:         bb.DB.WithSchema(schema),
		conninfo:   bb.Conninfo,
		httpClient: bb.HTTPClient,
		userAgent:  bb.UserAgent,
		mirror:     bb.Mirror,
		sql:        buildQueries(schema),
	}
	if w.httpClient == nil {
		w.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if w.userAgent == "" {
		w.userAgent = DefaultUserAgent
	}

	w.cyanaudit = probeCyanaudit(bb.DB)
	if w.cyanaudit {
		logger.Default().Info("cyanaudit integration enabled")
	}
	return w, nil
}

// RequestReload flags a pending configuration reload (SIGHUP). The loop
// observes and logs it between drains.
func (w *Worker) RequestReload() {
	w.reload.Store(true)
}

// Close releases the worker's long-lived resources, including the
// status server when one was started.
func (w *Worker) Close() {
	if w.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		w.status.Shutdown(ctx)
		cancel()
	}
	if w.httpClient != nil {
		w.httpClient.CloseIdleConnections()
	}
	if w.mirror != nil {
		w.mirror.Close()
	}
	w.db.Close()
}

func probeExtension(db *csql.DB, extension string) (string, error) {
	var schema string
	err := db.QueryRow(extensionCheckQuery, extension).Scan(&schema)
	if err == csql.ErrNoRows {
		return "", &MissingExtensionError{Extension: extension}
	}
	if err != nil {
		return "", err
	}
	return schema, nil
}

func probeCyanaudit(db *csql.DB) bool {
	var proname string
	err := db.QueryRow(cyanauditCheckQuery).Scan(&proname)
	if err == csql.ErrNoRows {
		return false
	}
	if err != nil {
		logger.Default().WithError(err).Warn("cyanaudit check failed")
		return false
	}
	return true
}

// MissingExtensionError reports a database without the extension the
// worker needs.
type MissingExtensionError struct {
	Extension string
}

func (e *MissingExtensionError) Error() string {
	return "extension check failed, is " + e.Extension + " installed?"
}
