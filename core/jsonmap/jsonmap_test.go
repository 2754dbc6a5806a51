package jsonmap

import (
	"testing"
)

func TestParseKeepsDocumentOrder(t *testing.T) {
	pairs, err := Parse(`{"b":"1","a":"2","c":"3"}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
	for i, want := range []string{"b", "a", "c"} {
		if pairs[i].Key != want {
			t.Errorf("pair %d: got key %q, want %q", i, pairs[i].Key, want)
		}
	}
}

func TestParseNormalisesNulls(t *testing.T) {
	pairs, err := Parse(`{"w":null,"x":"null","y":"NULL","z":"ok"}`)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if pairs[i].Value.Valid {
			t.Errorf("pair %q: expected NULL sentinel, got %q", pairs[i].Key, pairs[i].Value.String)
		}
	}
	if !pairs[3].Value.Valid || pairs[3].Value.String != "ok" {
		t.Errorf("pair z: got %#v", pairs[3].Value)
	}
}

func TestParseScalarsKeepTextForm(t *testing.T) {
	pairs, err := Parse(`{"n":1.5,"t":true,"s":"hi"}`)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"1.5", "true", "hi"} {
		if !pairs[i].Value.Valid || pairs[i].Value.String != want {
			t.Errorf("pair %q: got %#v, want %q", pairs[i].Key, pairs[i].Value, want)
		}
	}
}

func TestParseNestedStructuresStayOpaque(t *testing.T) {
	pairs, err := Parse(`{"outer":{"k":"v"},"list":[1,2]}`)
	if err != nil {
		t.Fatal(err)
	}
	if pairs[0].Value.String != `{"k":"v"}` {
		t.Errorf("nested object: got %q", pairs[0].Value.String)
	}
	if pairs[1].Value.String != `[1,2]` {
		t.Errorf("nested array: got %q", pairs[1].Value.String)
	}
}

func TestParseToleratesEmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "null", "{}"} {
		pairs, err := Parse(text)
		if err != nil {
			t.Errorf("input %q: unexpected error %v", text, err)
		}
		if len(pairs) != 0 {
			t.Errorf("input %q: expected no pairs, got %d", text, len(pairs))
		}
	}
}

func TestParseRejectsNonObjectRoot(t *testing.T) {
	for _, text := range []string{`[1,2]`, `"hi"`, `42`, `true`, `not json`} {
		if _, err := Parse(text); err == nil {
			t.Errorf("input %q: expected an error", text)
		}
	}
}
