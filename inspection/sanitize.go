// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package inspection

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SanitizationError indicates a payload that could not be coerced into the
// wire contract at all (e.g. not a JSON object). Malformed fields inside an
// otherwise well-formed payload are coerced or dropped, not errored.
type SanitizationError struct {
	Reason string
	Err    error
}

func (e *SanitizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inspection: sanitize: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("inspection: sanitize: %s", e.Reason)
}

func (e *SanitizationError) Unwrap() error { return e.Err }

// Wire shapes. These enumerate every field that crosses to the remote
// authority; anything not listed here is never forwarded.

// WireItem is an item coerced through the Item invariant: status always one
// of the four enumerated values, notes always present, photos always an array
// of strings.
type WireItem struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Notes  string   `json:"notes"`
	Photos []string `json:"photos"`
}

// WireSection is a section in wire shape: {slug, name, items[]}.
type WireSection struct {
	Slug  string     `json:"slug"`
	Name  string     `json:"name"`
	Items []WireItem `json:"items"`
}

// WireDraft is the sanitized draft shape submitted to POST /inspections.
// LocalID together with the device identity forms the idempotency key on the
// remote side. CanonicalID is present when the draft already has a remote
// identity (it arrived via pull or was pushed before), so a re-push updates
// that record instead of minting a duplicate.
type WireDraft struct {
	LocalID     int64         `json:"localId"`
	CanonicalID string        `json:"canonicalId,omitempty"`
	DeviceID    string        `json:"deviceId"`
	Vehicle     Vehicle       `json:"vehicle"`
	Sections    []WireSection `json:"sections"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// CoerceStatus maps an arbitrary value onto the closed status set. Anything
// unrecognized becomes StatusNA rather than propagating.
func CoerceStatus(v any) ItemStatus {
	s, ok := v.(string)
	if !ok {
		return StatusNA
	}
	if st := ItemStatus(s); ValidStatus(st) {
		return st
	}
	return StatusNA
}

// SanitizeDraft converts a locally stored draft to its wire shape. It is
// total: it cannot fail, only coerce. Applying it to an already sanitized
// draft yields the same payload.
func SanitizeDraft(d *Draft, deviceID string) *WireDraft {
	w := &WireDraft{
		LocalID:     d.LocalID,
		CanonicalID: d.CanonicalID,
		DeviceID:    deviceID,
		Vehicle:     sanitizeVehicleMap(d.Vehicle),
		Sections:    make([]WireSection, 0, len(d.Sections)),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	for i := range d.Sections {
		w.Sections = append(w.Sections, sanitizeTypedSection(&d.Sections[i]))
	}
	return w
}

func sanitizeTypedSection(s *Section) WireSection {
	ws := WireSection{
		Slug:  s.Slug,
		Name:  s.Name,
		Items: make([]WireItem, 0, len(s.Items)),
	}
	if ws.Name == "" {
		if ts, ok := TemplateSectionBySlug(s.Slug); ok {
			ws.Name = ts.Name
		}
	}
	for _, it := range s.Items {
		ws.Items = append(ws.Items, WireItem{
			ID:     it.ID,
			Status: string(CoerceStatus(string(it.Status))),
			Notes:  it.Notes,
			Photos: sanitizePhotos(it.Photos),
		})
	}
	return ws
}

func sanitizeVehicleMap(v Vehicle) Vehicle {
	out := Vehicle{}
	for k, val := range v {
		if k == "" {
			continue
		}
		out[k] = val
	}
	return out
}

func sanitizePhotos(photos []string) []string {
	out := []string{}
	for _, p := range photos {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SanitizePayload coerces an arbitrary JSON payload into the wire shape. This
// is the single boundary crossed by inbound push bodies on the server and by
// re-sanitized local payloads on the client: unknown fields are dropped,
// malformed fields are defaulted, and only a non-object payload is rejected.
func SanitizePayload(raw json.RawMessage) (*WireDraft, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &SanitizationError{Reason: "payload is not a JSON object", Err: err}
	}
	w := &WireDraft{
		LocalID:     coerceInt64(m["localId"]),
		CanonicalID: coerceString(m["canonicalId"]),
		DeviceID:    coerceString(m["deviceId"]),
		Vehicle:     SanitizeVehicle(m["vehicle"]),
		Sections:    SanitizeSections(m["sections"]),
		UpdatedAt:   coerceTime(m["updatedAt"]),
	}
	return w, nil
}

// SanitizeRemote coerces a record received from the remote authority. Records
// without a canonical identity are rejected; everything else is coerced the
// same way as outbound payloads.
func SanitizeRemote(raw json.RawMessage) (*RemoteInspection, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &SanitizationError{Reason: "remote record is not a JSON object", Err: err}
	}
	id := coerceString(m["id"])
	if id == "" {
		// Some deployments expose the document id under its storage name.
		id = coerceString(m["mongoId"])
	}
	if id == "" {
		return nil, &SanitizationError{Reason: "remote record missing canonical id"}
	}
	deleted, _ := m["deleted"].(bool)
	return &RemoteInspection{
		ID:        id,
		Vehicle:   SanitizeVehicle(m["vehicle"]),
		Sections:  SanitizeSections(m["sections"]),
		UpdatedAt: coerceTime(m["updatedAt"]),
		Deleted:   deleted,
	}, nil
}

// SanitizeVehicle coerces an arbitrary value into the vehicle descriptor map.
// Scalar values are stringified; nested objects and arrays are dropped.
func SanitizeVehicle(v any) Vehicle {
	out := Vehicle{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range m {
		if k == "" {
			continue
		}
		switch tv := val.(type) {
		case string:
			out[k] = tv
		case float64:
			out[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(tv)
		case nil:
			// dropped
		default:
			// nested structures are not part of the descriptor contract
		}
	}
	return out
}

// SanitizeSections coerces an arbitrary value into wire sections. Entries
// that are not objects, or that lack a slug, are dropped rather than
// forwarded.
func SanitizeSections(v any) []WireSection {
	out := []WireSection{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, entry := range arr {
		sm, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		slug := coerceString(sm["slug"])
		if slug == "" {
			continue
		}
		ws := WireSection{
			Slug:  slug,
			Name:  coerceString(sm["name"]),
			Items: sanitizeRawItems(sm["items"]),
		}
		if ws.Name == "" {
			if ts, ok := TemplateSectionBySlug(slug); ok {
				ws.Name = ts.Name
			}
		}
		out = append(out, ws)
	}
	return out
}

func sanitizeRawItems(v any) []WireItem {
	out := []WireItem{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, entry := range arr {
		im, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id := coerceString(im["id"])
		if id == "" {
			continue
		}
		out = append(out, WireItem{
			ID:     id,
			Status: string(CoerceStatus(im["status"])),
			Notes:  coerceString(im["notes"]),
			Photos: sanitizeRawPhotos(im["photos"]),
		})
	}
	return out
}

func sanitizeRawPhotos(v any) []string {
	out := []string{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, p := range arr {
		if s, ok := p.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func coerceString(v any) string {
	s, _ := v.(string)
	return s
}

func coerceInt64(v any) int64 {
	switch tv := v.(type) {
	case float64:
		return int64(tv)
	case string:
		n, err := strconv.ParseInt(tv, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func coerceTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
