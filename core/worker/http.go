package worker

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/neadwerx/eventmanager/core/jsonmap"
)

// DefaultUserAgent is sent on remote calls unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/66.0.3359.139 Safari/537.36"

// encodeParams builds the URL-encoded parameter blob: item parameters
// first, then the action's static parameters, then the session values,
// each list in document order.
func encodeParams(lists ...[]jsonmap.Pair) string {
	var b strings.Builder
	for _, pairs := range lists {
		for _, pair := range pairs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(pair.Key)
			b.WriteByte('=')
			if pair.Value.Valid {
				b.WriteString(url.QueryEscape(pair.Value.String))
			}
		}
	}
	return b.String()
}

// resolveURI prefers TLS for scheme-less URIs when the action requests
// it. Explicit schemes are left alone.
func resolveURI(uri string, useSSL bool) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	if useSSL {
		return "https://" + uri
	}
	return "http://" + uri
}

// executeRemote performs the work item's HTTP call. GET carries the
// parameter blob in the query string, PUT and POST carry it as the
// request body. The response body is drained so the connection can be
// reused; any status of 400 or above fails the item.
func (w *Worker) executeRemote(item *workItem, parameters, statics, sessions []jsonmap.Pair, rlog *logrus.Entry) error {
	if w.httpClient == nil {
		return fmt.Errorf("HTTP client unavailable, cannot execute action %s", item.Action.String)
	}

	method := strings.ToUpper(item.Method)
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodPost:
	default:
		return fmt.Errorf("unsupported method %q on action %s", item.Method, item.Action.String)
	}

	uri := resolveURI(item.URI.String, item.UseSSL)
	blob := encodeParams(parameters, statics, sessions)

	var body io.Reader
	if method == http.MethodGet {
		if blob != "" {
			uri += "?" + blob
		}
	} else {
		body = strings.NewReader(blob)
	}

	req, err := http.NewRequest(method, uri, body)
	if err != nil {
		return fmt.Errorf("failed to prepare remote call to %s: %w", uri, err)
	}
	req.Header.Set("User-Agent", w.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	rlog.Debugf("making remote call to URI: %s", uri)
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote call to %s failed: %w", uri, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("remote call to %s returned %s", uri, resp.Status)
	}
	return nil
}
