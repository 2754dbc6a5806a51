package worker

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/neadwerx/eventmanager/core/logger"
)

const (
	listenMinReconnect = 10 * time.Second
	listenMaxReconnect = time.Minute
	listenKeepalive    = 90 * time.Second
)

// Handler processes queue items until the queue is empty. It returns
// the number of items processed by one invocation; zero means empty
// queue (or a spurious wake-up) and ends the current drain.
type Handler func() int

// Listen subscribes to channel and drains the queue on every wake-up.
// The listener holds its own connection so that notifications arrive
// while a handler transaction is in flight on the worker connection.
//
// The queue is drained once before waiting: items recorded while no
// worker was running have no pending notification.
//
// Listen returns when ctx is cancelled (the terminate signal). An
// in-flight handler call is never interrupted; cancellation is observed
// between drains.
func (w *Worker) Listen(ctx context.Context, channel string, handler Handler) error {
	listener := pq.NewListener(w.conninfo, listenMinReconnect, listenMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnectionAttemptFailed:
				logger.Default().WithError(err).Warn("listener failed to connect, retrying")
			case pq.ListenerEventDisconnected:
				logger.Default().WithError(err).Warn("listener lost connection")
			case pq.ListenerEventReconnected:
				logger.Default().Info("listener reconnected")
			}
		})
	defer listener.Close()

	if err := listener.Listen(channel); err != nil {
		return err
	}
	logger.Default().Infof("listening on channel %q", channel)

	drain := func() {
		for handler() > 0 {
		}
	}
	drain()

	keepalive := time.NewTicker(listenKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notification := <-listener.Notify:
			// a nil notification signals a re-established connection
			if notification != nil {
				logger.Default().Debugf("asynchronous NOTIFY of %q received with payload %q",
					notification.Channel, notification.Extra)
			}
			drain()
		case <-keepalive.C:
			if err := listener.Ping(); err != nil {
				logger.Default().WithError(err).Warn("listener keepalive failed")
			}
			// safety net for notifications lost across reconnects
			drain()
		}

		if w.reload.Swap(false) {
			logger.Default().Info("reload requested, continuing")
		}
	}
}
