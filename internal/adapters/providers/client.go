// Package providers implements the external consult APIs behind the
// workflow ports: one AuthProvider and WorkflowProvider pair per provider.
package providers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

const (
	maxBodyBytes   = 4 << 20
	errorBodyLimit = 350
)

// StatusError is a non-2xx answer from a provider endpoint.
type StatusError struct {
	Step   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s HTTP_%d", e.Step, e.Status)
	}
	return fmt.Sprintf("%s HTTP_%d: %s", e.Step, e.Status, workflow.Truncate(body, errorBodyLimit))
}

// ErrorClass tags metrics with the step.
func (e *StatusError) ErrorClass() string { return "provider_http" }

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewHTTPClient builds the client the adapters of one provider share.
func NewHTTPClient(cfg *config.ProviderConfig) *http.Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for provider sandboxes
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

type response struct {
	Status  int
	Payload any
	Raw     []byte
}

func (r response) ok() bool { return r.Status >= 200 && r.Status < 300 }

// object returns the payload as an object, unwrapping a single-element array.
func (r response) object() map[string]any {
	switch t := r.Payload.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) > 0 {
			m, _ := t[0].(map[string]any)
			return m
		}
	}
	return nil
}

func (r response) statusError(step string) *StatusError {
	return &StatusError{Step: step, Status: r.Status, Body: string(r.Raw)}
}

// apiClient is the JSON transport shared by the adapters.
type apiClient struct {
	baseURL string
	hc      *http.Client
}

func newAPIClient(baseURL string, hc *http.Client) apiClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return apiClient{baseURL: strings.TrimRight(baseURL, "/"), hc: hc}
}

func (c apiClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + path
}

// do sends body as JSON and decodes a JSON answer. Transport failures are
// errors; HTTP statuses are left to the caller.
func (c apiClient) do(ctx context.Context, method, path string, header http.Header, body any) (response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return response{}, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), rd)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	out := response{Status: resp.StatusCode, Raw: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		var payload any
		if err := json.Unmarshal(raw, &payload); err == nil {
			out.Payload = payload
		}
	}
	return out, nil
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// credentialRejected wraps err as an account-level failure for auth statuses.
func credentialRejected(status int, err error) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", workflow.ErrInvalidCredential, err)
	}
	return err
}

// rows extracts the list of objects from the usual envelope keys.
func rows(payload any, keys ...string) []map[string]any {
	var list []any
	switch t := payload.(type) {
	case []any:
		list = t
	case map[string]any:
		for _, k := range keys {
			if l, ok := t[k].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			return []map[string]any{t}
		}
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

var errMissingToken = errors.New("login returned no token")
