package worker

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/neadwerx/eventmanager/core/jsonmap"
	"github.com/neadwerx/eventmanager/core/logger"
)

func TestEncodeParamsOrderAndEscaping(t *testing.T) {
	parameters := []jsonmap.Pair{{Key: "x", Value: ns("1")}}
	statics := []jsonmap.Pair{{Key: "y", Value: ns("a b/c")}}
	sessions := []jsonmap.Pair{{Key: "z"}}

	blob := encodeParams(parameters, statics, sessions)
	if blob != "x=1&y=a+b%2Fc&z=" {
		t.Fatalf("unexpected blob %q", blob)
	}
}

func TestEncodeParamsEmpty(t *testing.T) {
	if blob := encodeParams(nil, nil, nil); blob != "" {
		t.Fatalf("expected empty blob, got %q", blob)
	}
}

func TestResolveURI(t *testing.T) {
	cases := []struct {
		uri    string
		useSSL bool
		want   string
	}{
		{"example.com/hook", false, "http://example.com/hook"},
		{"example.com/hook", true, "https://example.com/hook"},
		{"http://example.com/hook", true, "http://example.com/hook"},
		{"https://example.com/hook", false, "https://example.com/hook"},
	}
	for _, c := range cases {
		if got := resolveURI(c.uri, c.useSSL); got != c.want {
			t.Errorf("resolveURI(%q, %v) = %q, want %q", c.uri, c.useSSL, got, c.want)
		}
	}
}

func TestExecuteRemotePostSendsFormBody(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	w := &Worker{httpClient: srv.Client(), userAgent: DefaultUserAgent}
	item := &workItem{Action: ns("5"), URI: ns(srv.URL), Method: "POST"}
	parameters := []jsonmap.Pair{{Key: "x", Value: ns("1")}, {Key: "y", Value: ns("2")}}

	if err := w.executeRemote(item, parameters, nil, nil, logger.WithCycle()); err != nil {
		t.Fatal(err)
	}
	if gotBody != "x=1&y=2" {
		t.Errorf("unexpected body %q", gotBody)
	}
	if gotType != "application/x-www-form-urlencoded" {
		t.Errorf("unexpected content type %q", gotType)
	}
}

func TestExecuteRemoteRejectsUnsupportedMethod(t *testing.T) {
	w := &Worker{httpClient: &http.Client{}, userAgent: DefaultUserAgent}
	item := &workItem{Action: ns("5"), URI: ns("http://localhost/hook"), Method: "DELETE"}

	err := w.executeRemote(item, nil, nil, nil, logger.WithCycle())
	if err == nil || !strings.Contains(err.Error(), "unsupported method") {
		t.Fatalf("expected unsupported method error, got %v", err)
	}
}

func TestExecuteRemoteFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := &Worker{httpClient: srv.Client(), userAgent: DefaultUserAgent}
	item := &workItem{Action: ns("5"), URI: ns(srv.URL), Method: "PUT"}

	if err := w.executeRemote(item, nil, nil, nil, logger.WithCycle()); err == nil {
		t.Fatal("expected error status to fail the call")
	}
}

func TestExecuteRemoteRequiresClient(t *testing.T) {
	w := &Worker{}
	item := &workItem{Action: ns("5"), URI: ns("http://localhost/hook"), Method: "GET"}

	if err := w.executeRemote(item, nil, nil, nil, logger.WithCycle()); err == nil {
		t.Fatal("expected missing client to fail")
	}
}
