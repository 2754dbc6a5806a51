package worker

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/neadwerx/eventmanager/core/jsonmap"
	"github.com/neadwerx/eventmanager/core/query"
)

// actionKind is the dispatch decision for one work item.
type actionKind int

const (
	actionQuery actionKind = iota
	actionHTTP
)

// kind resolves which branch the action descriptor takes. An action
// carrying both a query and a URI takes the query branch with a
// warning; an action carrying neither is a failure.
func (item *workItem) kind(rlog *logrus.Entry) (actionKind, error) {
	switch {
	case item.Query.Valid && item.URI.Valid:
		rlog.Warnf("dubious query / uri combination received as action %s", item.Action.String)
		return actionQuery, nil
	case item.Query.Valid:
		return actionQuery, nil
	case item.URI.Valid:
		return actionHTTP, nil
	default:
		return 0, fmt.Errorf("action %s has neither query nor uri", item.Action.String)
	}
}

// dispatch runs one work item's action inside the surrounding
// transaction.
func (w *Worker) dispatch(tx *sql.Tx, item *workItem, rlog *logrus.Entry) error {
	parameters, err := jsonmap.Parse(item.Parameters.String)
	if err != nil {
		return fmt.Errorf("bad parameters on work item: %w", err)
	}
	statics, err := jsonmap.Parse(item.StaticParameters.String)
	if err != nil {
		return fmt.Errorf("bad static_parameters on action %s: %w", item.Action.String, err)
	}
	sessions, err := jsonmap.Parse(item.SessionValues.String)
	if err != nil {
		return fmt.Errorf("bad session_values on work item: %w", err)
	}

	kind, err := item.kind(rlog)
	if err != nil {
		return err
	}

	if kind == actionHTTP {
		return w.executeRemote(item, parameters, statics, sessions, rlog)
	}
	return w.executeQuery(tx, item, parameters, statics, sessions, rlog)
}

func (w *Worker) executeQuery(tx *sql.Tx, item *workItem, parameters, statics, sessions []jsonmap.Pair, rlog *logrus.Entry) error {
	if err := w.setSessionValues(tx, sessions); err != nil {
		return err
	}

	q := query.New(item.Query.String)
	q.Bind("uid", item.UID)
	q.Bind("recorded", item.Recorded)
	q.Bind("transaction_label", item.TransactionLabel)
	q.BindJSON(parameters, "")
	q.BindJSON(statics, "")
	q.BindJSON(sessions, "")
	stmt, args := q.Finalize()
	rlog.Debugf("action query: %s", stmt)

	if err := w.setUID(tx, item.UID, sessions); err != nil {
		return err
	}
	if _, err := tx.Exec(stmt, args...); err != nil {
		return fmt.Errorf("action query failed: %w", err)
	}
	if err := w.clearSessionValues(tx, sessions); err != nil {
		return err
	}

	if w.cyanaudit {
		w.labelTransaction(tx, item.TransactionLabel, rlog)
	}
	return nil
}

// setUID runs the configured UID-setter function so that the action
// query executes on behalf of the queue item's user. The function name
// comes from the set_uid_function GUC and is itself a template.
func (w *Worker) setUID(tx *sql.Tx, uid sql.NullString, sessions []jsonmap.Pair) error {
	var fn sql.NullString
	if err := tx.QueryRow(w.sql.uidFunction, setUIDFunctionGUC).Scan(&fn); err != nil {
		return fmt.Errorf("failed to get set uid function: %w", err)
	}
	if !fn.Valid {
		return fmt.Errorf("set UID function is not configured")
	}

	q := query.New("SELECT " + fn.String)
	q.Bind("uid", uid)
	q.BindJSON(sessions, "")
	stmt, args := q.Finalize()

	if _, err := tx.Exec(stmt, args...); err != nil {
		return fmt.Errorf("failed to set UID: %w", err)
	}
	return nil
}

// labelTransaction asks cyanaudit to label the transaction. A failure
// here is logged but does not fail the item.
func (w *Worker) labelTransaction(tx *sql.Tx, label sql.NullString, rlog *logrus.Entry) {
	if _, err := tx.Exec(cyanauditLabelQuery, label); err != nil {
		rlog.WithError(err).Error("failed call to fn_label_last_transaction()")
	}
}
