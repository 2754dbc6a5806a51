package csql

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&pq.Error{Code: "57P01"}, true},
		{&pq.Error{Code: "57014"}, true},
		{&pq.Error{Code: "42601"}, false},
		{fmt.Errorf("dequeue failed: %w", &pq.Error{Code: "57014"}), true},
		{driver.ErrBadConn, true},
		{errors.New("some other problem"), false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := Backoff(attempt)
		if d <= 0 {
			t.Errorf("attempt %d: non-positive backoff %v", attempt, d)
		}
		if d > 10*time.Second {
			t.Errorf("attempt %d: backoff %v above cap", attempt, d)
		}
	}
}

func TestNullString(t *testing.T) {
	if NullString(nil).Valid {
		t.Error("nil pointer should become NULL")
	}
	empty := ""
	if ns := NullString(&empty); !ns.Valid || ns.String != "" {
		t.Errorf("empty string should pass through, got %#v", ns)
	}
	value := "42"
	if ns := NullString(&value); !ns.Valid || ns.String != "42" {
		t.Errorf("value should pass through, got %#v", ns)
	}
}
