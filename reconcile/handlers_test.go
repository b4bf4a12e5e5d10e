package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coolsheets/truenorth-sync/inspection"
)

type fakeService struct {
	applyPush        func(ctx context.Context, userID string, draft *inspection.WireDraft) (string, error)
	listUpdatedSince func(ctx context.Context, userID string, since time.Time) ([]*Record, error)
	markDeleted      func(ctx context.Context, userID, id string) error
	healthy          func(ctx context.Context) error
}

func (f *fakeService) ApplyPush(ctx context.Context, userID string, draft *inspection.WireDraft) (string, error) {
	return f.applyPush(ctx, userID, draft)
}

func (f *fakeService) ListUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*Record, error) {
	return f.listUpdatedSince(ctx, userID, since)
}

func (f *fakeService) MarkDeleted(ctx context.Context, userID, id string) error {
	return f.markDeleted(ctx, userID, id)
}

func (f *fakeService) Healthy(ctx context.Context) error {
	return f.healthy(ctx)
}

type staticAuth struct {
	userID   string
	deviceID string
	err      error
}

func (a *staticAuth) GetUserID(*http.Request) (string, error)   { return a.userID, a.err }
func (a *staticAuth) GetDeviceID(*http.Request) (string, error) { return a.deviceID, a.err }

func newTestHandlers(svc *fakeService) *Handlers {
	return NewHandlers(svc, &staticAuth{userID: "user-1", deviceID: "device-1"}, nil)
}

func TestPushReturnsCanonicalID(t *testing.T) {
	var gotUser, gotDevice string
	var gotLocalID int64
	svc := &fakeService{
		applyPush: func(ctx context.Context, userID string, draft *inspection.WireDraft) (string, error) {
			gotUser = userID
			gotDevice = draft.DeviceID
			gotLocalID = draft.LocalID
			return "canon-1", nil
		},
	}
	mux := newTestHandlers(svc).Routes()

	body := `{"localId":7,"deviceId":"spoofed","vehicle":{"make":"Kenworth"},"sections":[]}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inspections", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp PushResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "canon-1", resp.ID)

	require.Equal(t, "user-1", gotUser)
	require.Equal(t, "device-1", gotDevice, "token identity overrides the body's deviceId")
	require.Equal(t, int64(7), gotLocalID)
}

func TestPushForwardsCanonicalIDForReconciliation(t *testing.T) {
	var pushed *inspection.WireDraft
	svc := &fakeService{
		applyPush: func(ctx context.Context, userID string, draft *inspection.WireDraft) (string, error) {
			pushed = draft
			return draft.CanonicalID, nil
		},
	}
	mux := newTestHandlers(svc).Routes()

	body := `{"localId":3,"canonicalId":"0d9f5e7c-9a30-4a53-8f62-0b9a4a9f2d11","vehicle":{},"sections":[]}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inspections", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "0d9f5e7c-9a30-4a53-8f62-0b9a4a9f2d11", pushed.CanonicalID,
		"the canonical id reaches the service so it can match the existing record")
}

func TestPushSanitizesUntrustedPayload(t *testing.T) {
	var pushed *inspection.WireDraft
	svc := &fakeService{
		applyPush: func(ctx context.Context, userID string, draft *inspection.WireDraft) (string, error) {
			pushed = draft
			return "canon-1", nil
		},
	}
	mux := newTestHandlers(svc).Routes()

	body := `{"localId":1,"vehicle":{"make":"Volvo","year":2019,"nested":{"x":1}},
		"sections":[{"slug":"brakes","items":[{"id":"service-brake","status":"exploded"}]}],
		"injected":"<script>"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inspections", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "2019", pushed.Vehicle["year"], "scalars are coerced to strings")
	require.NotContains(t, pushed.Vehicle, "nested")
	require.Equal(t, string(inspection.StatusNA), pushed.Sections[0].Items[0].Status)
}

func TestPushRejectsNonObjectBody(t *testing.T) {
	mux := newTestHandlers(&fakeService{}).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inspections", strings.NewReader(`[1,2,3]`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "invalid_request", resp.Error)
}

func TestListParsesUpdatedSince(t *testing.T) {
	var gotSince time.Time
	svc := &fakeService{
		listUpdatedSince: func(ctx context.Context, userID string, since time.Time) ([]*Record, error) {
			gotSince = since
			return []*Record{{ID: "canon-1", Vehicle: json.RawMessage(`{}`), Sections: json.RawMessage(`[]`)}}, nil
		},
	}
	mux := newTestHandlers(svc).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/inspections?updated_since=2026-01-02T15:04:05Z", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), gotSince.UTC())

	var records []*Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, "canon-1", records[0].ID)
}

func TestListRejectsBadTimestamp(t *testing.T) {
	mux := newTestHandlers(&fakeService{}).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inspections?updated_since=yesterday", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTombstonesRecord(t *testing.T) {
	var deletedID string
	svc := &fakeService{
		markDeleted: func(ctx context.Context, userID, id string) error {
			deletedID = id
			return nil
		},
	}
	mux := newTestHandlers(svc).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/inspections/canon-9", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "canon-9", deletedID)
}

func TestDeleteUnknownRecordReturns404(t *testing.T) {
	svc := &fakeService{
		markDeleted: func(ctx context.Context, userID, id string) error {
			return ErrRecordNotFound
		},
	}
	mux := newTestHandlers(svc).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/inspections/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	healthy := true
	svc := &fakeService{
		healthy: func(ctx context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("db down")
		},
	}
	mux := newTestHandlers(svc).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/inspections/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/inspections/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	h := NewHandlers(&fakeService{}, &staticAuth{err: errors.New("no token")}, nil)
	mux := h.Routes()

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/inspections", strings.NewReader(`{}`)),
		httptest.NewRequest(http.MethodGet, "/inspections", nil),
		httptest.NewRequest(http.MethodDelete, "/inspections/x", nil),
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, req.Method)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestHandlers(&fakeService{}).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/inspections", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
