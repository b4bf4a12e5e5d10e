// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coolsheets/truenorth-sync/inspection"
)

// requestTimeout bounds every sync round trip. Exceeding it is treated as a
// failure, not a hang.
const requestTimeout = 30 * time.Second

// NetworkError wraps a push/pull failure. Recoverable: the draft stays
// unsynced and is retried on the next scheduled cycle.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("syncer: %s: remote returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("syncer: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TokenFunc supplies the bearer token for a request.
type TokenFunc func(ctx context.Context) (string, error)

// Transport speaks the reconciliation wire protocol.
type Transport struct {
	BaseURL string
	HTTP    *http.Client
	Token   TokenFunc
	logger  *slog.Logger
}

// NewTransport creates a transport against the given API base URL.
func NewTransport(baseURL string, token TokenFunc, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: requestTimeout},
		Token:   token,
		logger:  logger,
	}
}

// pushResponse carries the canonical identity assigned by the remote.
type pushResponse struct {
	ID string `json:"id"`
}

// PushDraft submits one sanitized draft. Any 2xx is success; the response
// body, if present, carries the canonical identity.
func (t *Transport) PushDraft(ctx context.Context, w *inspection.WireDraft) (string, error) {
	body, err := json.Marshal(w)
	if err != nil {
		return "", &NetworkError{Op: "push", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/inspections", bytes.NewReader(body))
	if err != nil {
		return "", &NetworkError{Op: "push", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if err := t.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "push", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &NetworkError{Op: "push", StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Op: "push", Err: err}
	}
	if len(data) == 0 {
		return "", nil
	}
	var pr pushResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		// A 2xx with an undecodable body still acknowledged the write.
		t.logger.Warn("push response body not decodable", "error", err)
		return "", nil
	}
	return pr.ID, nil
}

// FetchInspections requests remote records, optionally only those updated
// since the given watermark. Each record passes through the sanitization
// boundary; malformed records are skipped, never the whole batch.
func (t *Transport) FetchInspections(ctx context.Context, since *time.Time) ([]*inspection.RemoteInspection, error) {
	u := t.BaseURL + "/inspections"
	if since != nil {
		q := url.Values{}
		q.Set("updated_since", since.UTC().Format(time.RFC3339Nano))
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &NetworkError{Op: "pull", Err: err}
	}
	if err := t.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "pull", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &NetworkError{Op: "pull", StatusCode: resp.StatusCode}
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &NetworkError{Op: "pull", Err: err}
	}

	records := make([]*inspection.RemoteInspection, 0, len(raw))
	for _, r := range raw {
		rec, err := inspection.SanitizeRemote(r)
		if err != nil {
			var serr *inspection.SanitizationError
			if errors.As(err, &serr) {
				t.logger.Warn("skipping malformed remote record", "reason", serr.Reason)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteInspection forwards a local deletion to the remote. A 404 counts as
// acknowledged: the record is already gone.
func (t *Transport) DeleteInspection(ctx context.Context, canonicalID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.BaseURL+"/inspections/"+canonicalID, nil)
	if err != nil {
		return &NetworkError{Op: "delete", Err: err}
	}
	if err := t.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Op: "delete", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: "delete", StatusCode: resp.StatusCode}
	}
	return nil
}

func (t *Transport) authorize(ctx context.Context, req *http.Request) error {
	if t.Token == nil {
		return nil
	}
	token, err := t.Token(ctx)
	if err != nil {
		return &NetworkError{Op: "token", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
