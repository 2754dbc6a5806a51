// Package jsonmap decodes the JSON objects riding on queue rows
// (parameters, static parameters, session values, OLD/NEW images) into
// an ordered list of key/value pairs. Only the top level is walked:
// nested objects and arrays stay one opaque raw-JSON value. The
// normalisation of null-ish values to a database NULL happens here and
// nowhere else.
package jsonmap

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Pair is one top-level key/value entry in document order. An invalid
// Value is the NULL sentinel.
type Pair struct {
	Key   string
	Value sql.NullString
}

var objectSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(`{"type":"object"}`))
	if err != nil {
		panic(err)
	}
	return schema
}()

// Parse decodes text into ordered pairs. Empty input and JSON null are
// tolerated and yield no pairs; any other non-object root is an error.
//
// Scalar values keep their text form. JSON null and the literal strings
// "null" and "NULL" become the NULL sentinel.
func Parse(text string) ([]Pair, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	result, err := objectSchema.Validate(gojsonschema.NewStringLoader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("JSON root is not an object")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	if _, err := dec.Token(); err != nil { // opening brace
		return nil, err
	}

	var pairs []Pair
	for dec.More() {
		keyToken, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyToken)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: key, Value: valueText(raw)})
	}
	return pairs, nil
}

func valueText(raw json.RawMessage) sql.NullString {
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return sql.NullString{}
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s == "null" || s == "NULL" {
				return sql.NullString{}
			}
			return sql.NullString{String: s, Valid: true}
		}
	}
	// numbers, booleans, and opaque nested structures keep their raw form
	return sql.NullString{String: text, Valid: true}
}
