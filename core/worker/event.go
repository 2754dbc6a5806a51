package worker

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neadwerx/eventmanager/core/csql"
	"github.com/neadwerx/eventmanager/core/jsonmap"
	"github.com/neadwerx/eventmanager/core/logger"
	"github.com/neadwerx/eventmanager/core/query"
)

// eventItem is one dequeued row of tb_event_queue. Everything is
// carried as text; the delete predicate and the work-item insert cast
// on the database side.
type eventItem struct {
	WorkItem              sql.NullString // event_table_work_item
	UID                   sql.NullString
	Recorded              sql.NullString
	PKValue               sql.NullString
	Op                    sql.NullString
	Action                sql.NullString
	TransactionLabel      sql.NullString
	WorkItemQuery         sql.NullString
	ExecuteAsynchronously sql.NullString
	Old                   sql.NullString
	New                   sql.NullString
	SessionValues         sql.NullString
	CTID                  sql.NullString
}

// EventQueueHandler processes at most one event queue item. It returns
// 1 when an item was processed and 0 when the queue was empty or the
// cycle failed; the notification loop keeps calling until it gets 0.
func (w *Worker) EventQueueHandler() int {
	return w.runWithRetry("event queue cycle", w.eventCycle)
}

// runWithRetry executes one handler cycle, retrying in place when the
// failure is an administrator-initiated cancellation. Each attempt is
// its own transaction; the budget and backoff live in csql.
func (w *Worker) runWithRetry(name string, cycle func(*logrus.Entry) (int, error)) int {
	for attempt := 0; ; attempt++ {
		rlog := logger.WithCycle()
		n, err := cycle(rlog)
		if err == nil {
			return n
		}
		if csql.IsTransient(err) && attempt+1 < csql.MaxConnRetries {
			rlog.WithError(err).Warnf("%s cancelled by administrator, retrying", name)
			time.Sleep(csql.Backoff(attempt))
			continue
		}
		rlog.WithError(err).Errorf("%s failed", name)
		return 0
	}
}

func (w *Worker) eventCycle(rlog *logrus.Entry) (int, error) {
	tx, err := w.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to start event dequeue transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var item eventItem
	err = tx.QueryRow(w.sql.getEventItem).Scan(
		&item.WorkItem,
		&item.UID,
		&item.Recorded,
		&item.PKValue,
		&item.Op,
		&item.Action,
		&item.TransactionLabel,
		&item.WorkItemQuery,
		&item.ExecuteAsynchronously,
		&item.Old,
		&item.New,
		&item.SessionValues,
		&item.CTID,
	)
	if err == csql.ErrNoRows {
		rlog.Info("received spurious NOTIFY")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to dequeue event item: %w", err)
	}

	sessions, err := jsonmap.Parse(item.SessionValues.String)
	if err != nil {
		return 0, fmt.Errorf("bad session_values on event item: %w", err)
	}
	newPairs, err := jsonmap.Parse(item.New.String)
	if err != nil {
		return 0, fmt.Errorf("bad new row image on event item: %w", err)
	}
	oldPairs, err := jsonmap.Parse(item.Old.String)
	if err != nil {
		return 0, fmt.Errorf("bad old row image on event item: %w", err)
	}

	if err := w.setSessionValues(tx, sessions); err != nil {
		return 0, err
	}

	q := query.New(item.WorkItemQuery.String)
	q.Bind("event_table_work_item", item.WorkItem)
	q.Bind("uid", item.UID)
	q.Bind("op", item.Op)
	q.Bind("pk_value", item.PKValue)
	q.Bind("recorded", item.Recorded)
	q.BindJSON(newPairs, "NEW.")
	q.BindJSON(oldPairs, "OLD.")
	q.BindJSON(sessions, "")
	stmt, args := q.Finalize()
	rlog.Debugf("work item query: %s", stmt)

	rows, err := tx.Query(stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute work item query: %w", err)
	}
	// the single connection cannot run the inserts while the result set
	// is open, so collect first
	parameters, err := collectColumn(rows, "parameters")
	if err != nil {
		return 0, err
	}

	for _, params := range parameters {
		_, err := tx.Exec(w.sql.insertWorkItem,
			params,
			item.UID,
			item.Recorded,
			item.TransactionLabel,
			item.Action,
			item.ExecuteAsynchronously,
			item.SessionValues,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to enqueue new work item: %w", err)
		}
	}

	_, err = tx.Exec(w.sql.deleteEventItem,
		item.WorkItem,
		item.UID,
		item.Recorded,
		item.PKValue,
		item.Op,
		item.Old,
		item.New,
		item.SessionValues,
		item.CTID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to dequeue event queue item: %w", err)
	}

	if err := w.clearSessionValues(tx, sessions); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event queue transaction: %w", err)
	}
	committed = true

	w.publishProcessed("event", item.Action, item.UID, item.Recorded, item.TransactionLabel)
	return 1, nil
}

// collectColumn drains rows and returns the values of the named column.
func collectColumn(rows *sql.Rows, name string) ([]sql.NullString, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, col := range cols {
		if col == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("work item query returned no %q column", name)
	}

	var values []sql.NullString
	for rows.Next() {
		holders := make([]interface{}, len(cols))
		for i := range holders {
			holders[i] = new(sql.NullString)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
		values = append(values, *holders[idx].(*sql.NullString))
	}
	return values, rows.Err()
}
