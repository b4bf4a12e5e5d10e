package inspection

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoerceStatus(t *testing.T) {
	cases := []struct {
		in   any
		want ItemStatus
	}{
		{"ok", StatusOK},
		{"warn", StatusWarn},
		{"fail", StatusFail},
		{"na", StatusNA},
		{"OK", StatusNA},
		{"passed", StatusNA},
		{"", StatusNA},
		{nil, StatusNA},
		{42.0, StatusNA},
		{true, StatusNA},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CoerceStatus(tc.in), "input %v", tc.in)
	}
}

func TestSanitizeDraftDefaultsMissingFields(t *testing.T) {
	d := &Draft{
		LocalID: 7,
		Vehicle: Vehicle{"make": "Honda", "vin": "1HGBH41JXMN109186"},
		Sections: []Section{
			{
				Slug: "brakes",
				Items: []Item{
					{ID: "service-brake", Status: "bogus"},
					{ID: "parking-brake", Status: StatusOK, Photos: []string{"", "data:image/jpeg;base64,AAA"}},
				},
			},
		},
		UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	w := SanitizeDraft(d, "device-1")
	require.Equal(t, int64(7), w.LocalID)
	require.Equal(t, "device-1", w.DeviceID)
	require.Len(t, w.Sections, 1)

	sec := w.Sections[0]
	require.Equal(t, "brakes", sec.Slug)
	// Missing section name resolves from the template by slug.
	require.Equal(t, "Brakes", sec.Name)
	require.Len(t, sec.Items, 2)

	// Unknown status coerces to na; notes default to empty string, not absent.
	require.Equal(t, "na", sec.Items[0].Status)
	require.Equal(t, "", sec.Items[0].Notes)
	require.NotNil(t, sec.Items[0].Photos)
	require.Empty(t, sec.Items[0].Photos)

	// Empty photo entries are dropped, order preserved for the rest.
	require.Equal(t, []string{"data:image/jpeg;base64,AAA"}, sec.Items[1].Photos)
}

func TestSanitizeDraftNotesAlwaysPresentOnWire(t *testing.T) {
	d := &Draft{
		LocalID:   1,
		Vehicle:   Vehicle{},
		Sections:  []Section{{Slug: "interior", Items: []Item{{ID: "horn", Status: StatusOK}}}},
		UpdatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(SanitizeDraft(d, "dev"))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	sections := m["sections"].([]any)
	items := sections[0].(map[string]any)["items"].([]any)
	item := items[0].(map[string]any)

	notes, present := item["notes"]
	require.True(t, present, "notes must be serialized even when empty")
	require.Equal(t, "", notes)
}

func TestSanitizeDraftCarriesCanonicalIdentity(t *testing.T) {
	d := &Draft{
		LocalID:     4,
		CanonicalID: "abc",
		Vehicle:     Vehicle{},
		UpdatedAt:   time.Now().UTC(),
	}
	w := SanitizeDraft(d, "dev")
	require.Equal(t, "abc", w.CanonicalID)

	raw, err := json.Marshal(w)
	require.NoError(t, err)
	parsed, err := SanitizePayload(raw)
	require.NoError(t, err)
	require.Equal(t, "abc", parsed.CanonicalID, "canonical id survives the wire round trip")

	// Drafts that never synced carry no canonical id on the wire at all.
	raw, err = json.Marshal(SanitizeDraft(&Draft{LocalID: 5, UpdatedAt: time.Now()}, "dev"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "canonicalId")
}

func TestSanitizePayloadIdempotent(t *testing.T) {
	d := &Draft{
		LocalID: 3,
		Vehicle: Vehicle{"make": "Honda", "year": "2019", "odometer": "180214"},
		Sections: []Section{
			{Slug: "exterior", Name: "Exterior / Walk-Around", Items: []Item{
				{ID: "tires", Status: StatusWarn, Notes: "front left worn", Photos: []string{"https://cdn/p1.jpg"}},
			}},
		},
		UpdatedAt: time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC),
	}

	once := SanitizeDraft(d, "device-9")
	rawOnce, err := json.Marshal(once)
	require.NoError(t, err)

	twice, err := SanitizePayload(rawOnce)
	require.NoError(t, err)
	rawTwice, err := json.Marshal(twice)
	require.NoError(t, err)

	require.JSONEq(t, string(rawOnce), string(rawTwice))
}

func TestSanitizePayloadDropsUnknownAndMalformed(t *testing.T) {
	raw := []byte(`{
		"localId": 12,
		"deviceId": "dev-1",
		"vehicle": {"make": "Ford", "year": 2020, "recalls": ["a", "b"], "fleet": true, "vin": null},
		"sections": [
			{"slug": "brakes", "items": [
				{"id": "service-brake", "status": "fail", "photos": ["p1.jpg", 42, null, "p2.jpg"], "extra": "x"},
				{"status": "ok"},
				"not-an-object"
			], "injected": {"$where": "1"}},
			{"name": "orphan without slug", "items": []},
			17
		],
		"updatedAt": "2025-06-01T08:30:00Z",
		"__proto__": {"polluted": true}
	}`)

	w, err := SanitizePayload(raw)
	require.NoError(t, err)
	require.Equal(t, int64(12), w.LocalID)
	require.Equal(t, "dev-1", w.DeviceID)

	// Scalars coerced, structures dropped.
	require.Equal(t, Vehicle{"make": "Ford", "year": "2020", "fleet": "true"}, w.Vehicle)

	// Slug-less and non-object sections dropped.
	require.Len(t, w.Sections, 1)
	sec := w.Sections[0]
	require.Equal(t, "brakes", sec.Slug)

	// Item without an id is dropped, non-string photos filtered out.
	require.Len(t, sec.Items, 1)
	require.Equal(t, "fail", sec.Items[0].Status)
	require.Equal(t, []string{"p1.jpg", "p2.jpg"}, sec.Items[0].Photos)

	// Extra fields never round-trip.
	out, err := json.Marshal(w)
	require.NoError(t, err)
	require.NotContains(t, string(out), "injected")
	require.NotContains(t, string(out), "extra")
	require.NotContains(t, string(out), "__proto__")
}

func TestSanitizePayloadRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`[1,2,3]`, `"draft"`, `17`, `{"broken`} {
		_, err := SanitizePayload([]byte(raw))
		require.Error(t, err, "payload %s", raw)
		var serr *SanitizationError
		require.ErrorAs(t, err, &serr)
	}
}

func TestSanitizeRemote(t *testing.T) {
	raw := []byte(`{"id":"abc","vehicle":{"make":"Honda"},"sections":[],"updatedAt":"2025-06-01T10:00:00Z"}`)
	rec, err := SanitizeRemote(raw)
	require.NoError(t, err)
	require.Equal(t, "abc", rec.ID)
	require.Equal(t, Vehicle{"make": "Honda"}, rec.Vehicle)
	require.Empty(t, rec.Sections)
	require.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), rec.UpdatedAt)

	// Storage-name alias for the canonical id is accepted.
	rec, err = SanitizeRemote([]byte(`{"mongoId":"xyz","sections":[]}`))
	require.NoError(t, err)
	require.Equal(t, "xyz", rec.ID)

	// Missing canonical id is a hard reject.
	_, err = SanitizeRemote([]byte(`{"vehicle":{"make":"Honda"}}`))
	var serr *SanitizationError
	require.ErrorAs(t, err, &serr)
}
