package worker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var workCols = []string{
	"parameters", "uid", "recorded", "transaction_label", "action",
	"session_values", "ctid", "query", "uri", "method", "use_ssl",
	"static_parameters",
}

const workRecorded = "2024-05-01 10:05:00"

func TestWorkQueueHandlerRunsQueryAction(t *testing.T) {
	w, mock := newMockWorker(t)
	w.cyanaudit = true

	rows := sqlmock.NewRows(workCols).AddRow(
		`{"x":"1"}`, "42", workRecorded, "batch-7", "5", nil, "(0,2)",
		"UPDATE tb_thing SET x = ?x? WHERE modified_by = ?uid?",
		nil, "GET", false, nil,
	)
	mock.ExpectBegin()
	mock.ExpectQuery(w.sql.getWorkItem).WillReturnRows(rows)
	mock.ExpectQuery(w.sql.uidFunction).
		WithArgs(setUIDFunctionGUC).
		WillReturnRows(sqlmock.NewRows([]string{"uid_function"}).
			AddRow("fn_set_uid( ?uid? )"))
	mock.ExpectExec("SELECT fn_set_uid( $1 )").
		WithArgs("42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tb_thing SET x = $2 WHERE modified_by = $1").
		WithArgs("42", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(cyanauditLabelQuery).
		WithArgs("batch-7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(w.sql.deleteWorkItem).
		WithArgs(`{"x":"1"}`, "42", workRecorded, "batch-7", "5", nil, "(0,2)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if n := w.WorkQueueHandler(); n != 1 {
		t.Fatalf("expected 1 processed item, got %d", n)
	}
	expectationsMet(t, mock)
}

func TestWorkQueueHandlerRunsRemoteAction(t *testing.T) {
	var gotMethod, gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	w, mock := newMockWorker(t)

	rows := sqlmock.NewRows(workCols).AddRow(
		`{"x":"1"}`, "42", workRecorded, nil, "5", nil, "(0,2)",
		nil, srv.URL+"/hook", "GET", false, `{"y":"2"}`,
	)
	mock.ExpectBegin()
	mock.ExpectQuery(w.sql.getWorkItem).WillReturnRows(rows)
	mock.ExpectExec(w.sql.deleteWorkItem).
		WithArgs(`{"x":"1"}`, "42", workRecorded, nil, "5", nil, "(0,2)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if n := w.WorkQueueHandler(); n != 1 {
		t.Fatalf("expected 1 processed item, got %d", n)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("expected GET, got %s", gotMethod)
	}
	if gotQuery != "x=1&y=2" {
		t.Errorf("expected item parameters before statics, got %q", gotQuery)
	}
	if gotAgent != DefaultUserAgent {
		t.Errorf("unexpected user agent %q", gotAgent)
	}
	expectationsMet(t, mock)
}

func TestWorkQueueHandlerPrefersQueryOverURI(t *testing.T) {
	w, mock := newMockWorker(t)

	rows := sqlmock.NewRows(workCols).AddRow(
		nil, nil, workRecorded, nil, "9", nil, "(0,3)",
		"SELECT 1", "ignored.example.com", "GET", false, nil,
	)
	mock.ExpectBegin()
	mock.ExpectQuery(w.sql.getWorkItem).WillReturnRows(rows)
	mock.ExpectQuery(w.sql.uidFunction).
		WithArgs(setUIDFunctionGUC).
		WillReturnRows(sqlmock.NewRows([]string{"uid_function"}).
			AddRow("fn_set_uid( ?uid? )"))
	mock.ExpectExec("SELECT fn_set_uid( $1 )").
		WithArgs(nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(w.sql.deleteWorkItem).
		WithArgs(nil, nil, workRecorded, nil, "9", nil, "(0,3)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if n := w.WorkQueueHandler(); n != 1 {
		t.Fatalf("expected query branch to win, got %d", n)
	}
	expectationsMet(t, mock)
}

func TestWorkQueueHandlerRejectsEmptyAction(t *testing.T) {
	w, mock := newMockWorker(t)

	rows := sqlmock.NewRows(workCols).AddRow(
		nil, nil, workRecorded, nil, "9", nil, "(0,3)",
		nil, nil, "GET", false, nil,
	)
	mock.ExpectBegin()
	mock.ExpectQuery(w.sql.getWorkItem).WillReturnRows(rows)
	mock.ExpectRollback()

	if n := w.WorkQueueHandler(); n != 0 {
		t.Fatalf("expected 0 for action without query or uri, got %d", n)
	}
	expectationsMet(t, mock)
}

func TestWorkQueueHandlerKeepsItemOnRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	w, mock := newMockWorker(t)

	rows := sqlmock.NewRows(workCols).AddRow(
		nil, nil, workRecorded, nil, "5", nil, "(0,2)",
		nil, srv.URL, "GET", false, nil,
	)
	mock.ExpectBegin()
	mock.ExpectQuery(w.sql.getWorkItem).WillReturnRows(rows)
	mock.ExpectRollback()

	if n := w.WorkQueueHandler(); n != 0 {
		t.Fatalf("expected 0 on failed remote call, got %d", n)
	}
	expectationsMet(t, mock)
}

func TestWorkQueueHandlerEmptyQueue(t *testing.T) {
	w, mock := newMockWorker(t)
	mock.ExpectBegin()
	mock.ExpectQuery(w.sql.getWorkItem).WillReturnError(errNoRows())
	mock.ExpectRollback()

	if n := w.WorkQueueHandler(); n != 0 {
		t.Fatalf("expected 0 on empty queue, got %d", n)
	}
	expectationsMet(t, mock)
}
