package worker

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/neadwerx/eventmanager/core/csql"
)

// workItem is one dequeued row of tb_work_queue joined with its action
// descriptor. The dequeue already resolved the method default and the
// __BASE_URL__ token in the URI.
type workItem struct {
	Parameters       sql.NullString
	UID              sql.NullString
	Recorded         sql.NullString
	TransactionLabel sql.NullString
	Action           sql.NullString
	SessionValues    sql.NullString
	CTID             sql.NullString
	Query            sql.NullString
	URI              sql.NullString
	Method           string
	UseSSL           bool
	StaticParameters sql.NullString
}

// WorkQueueHandler processes at most one work queue item: dequeue with
// its action, dispatch, delete, commit. Returns 1 on success, 0 on
// empty queue or failure.
func (w *Worker) WorkQueueHandler() int {
	return w.runWithRetry("work queue cycle", w.workCycle)
}

func (w *Worker) workCycle(rlog *logrus.Entry) (int, error) {
	tx, err := w.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to start work dequeue transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var item workItem
	err = tx.QueryRow(w.sql.getWorkItem).Scan(
		&item.Parameters,
		&item.UID,
		&item.Recorded,
		&item.TransactionLabel,
		&item.Action,
		&item.SessionValues,
		&item.CTID,
		&item.Query,
		&item.URI,
		&item.Method,
		&item.UseSSL,
		&item.StaticParameters,
	)
	if err == csql.ErrNoRows {
		rlog.Info("received spurious NOTIFY")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("work queue dequeue operation failed: %w", err)
	}

	if err := w.dispatch(tx, &item, rlog); err != nil {
		return 0, err
	}

	_, err = tx.Exec(w.sql.deleteWorkItem,
		item.Parameters,
		item.UID,
		item.Recorded,
		item.TransactionLabel,
		item.Action,
		item.SessionValues,
		item.CTID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to flush work queue item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit work queue transaction: %w", err)
	}
	committed = true

	w.publishProcessed("work", item.Action, item.UID, item.Recorded, item.TransactionLabel)
	return 1, nil
}
