// Package query rewrites SQL templates with named ?key? placeholders
// into positional $N statements plus an ordered bind list.
package query

import (
	"database/sql"
	"regexp"
	"strconv"
	"strings"

	"github.com/neadwerx/eventmanager/core/jsonmap"
)

// residual matches any placeholder left unbound after all Bind calls,
// with its optional OLD. / NEW. row-image prefix.
var residual = regexp.MustCompile(`\?(OLD\.|NEW\.)?[A-Za-z_][A-Za-z0-9_]*\?`)

// Query pairs a template with its growing positional bind list. Create
// one per queue item, bind, finalize once, execute, discard.
type Query struct {
	template  string
	binds     []sql.NullString
	finalized bool
}

// New starts a builder over the given template.
func New(template string) *Query {
	return &Query{template: template}
}

// Bind rewrites every occurrence of ?key? to the next positional index
// and appends value to the bind list. All occurrences of the same key
// share one index, so the list grows by exactly one entry per matching
// call. A key that does not occur leaves the builder untouched.
func (q *Query) Bind(key string, value sql.NullString) {
	placeholder := "?" + key + "?"
	if !strings.Contains(q.template, placeholder) {
		return
	}
	n := len(q.binds) + 1
	q.template = strings.ReplaceAll(q.template, placeholder, "$"+strconv.Itoa(n))
	q.binds = append(q.binds, value)
}

// BindJSON binds every top-level pair of a decoded JSON object, with an
// optional key prefix ("NEW.", "OLD.").
func (q *Query) BindJSON(pairs []jsonmap.Pair, prefix string) {
	for _, pair := range pairs {
		q.Bind(prefix+pair.Key, pair.Value)
	}
}

// Finalize rewrites any remaining placeholder to the literal NULL and
// returns the statement with its positional arguments. The positional
// indices in the statement are exactly {1..len(args)}.
func (q *Query) Finalize() (string, []interface{}) {
	if !q.finalized {
		q.template = residual.ReplaceAllLiteralString(q.template, "NULL")
		q.finalized = true
	}
	args := make([]interface{}, len(q.binds))
	for i, bind := range q.binds {
		args[i] = bind
	}
	return q.template, args
}

// Template exposes the current template text, mainly for logging.
func (q *Query) Template() string {
	return q.template
}
