// Package inspection defines the vehicle-inspection domain model and the
// sanitization boundary between locally stored drafts and the wire contract
// spoken by the remote reconciliation endpoint.
//
// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package inspection

import (
	"time"
)

// ItemStatus is the closed set of states an inspected item can be in.
type ItemStatus string

const (
	StatusOK   ItemStatus = "ok"
	StatusWarn ItemStatus = "warn"
	StatusFail ItemStatus = "fail"
	StatusNA   ItemStatus = "na" // default until explicitly set
)

// ValidStatus reports whether s is one of the four enumerated statuses.
func ValidStatus(s ItemStatus) bool {
	switch s {
	case StatusOK, StatusWarn, StatusFail, StatusNA:
		return true
	}
	return false
}

// Item is the smallest inspected unit within a section.
type Item struct {
	ID     string     `json:"id"`
	Status ItemStatus `json:"status"`
	Notes  string     `json:"notes"`
	Photos []string   `json:"photos"` // data URIs or remote URLs, capture order
}

// Section groups items under a stable slug. Order of sections follows the
// template but lookup is always by slug, never by position, so a draft may
// persist a subset or superset of template slugs.
type Section struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// ItemByID returns a pointer into s.Items for the item with the given id.
func (s *Section) ItemByID(id string) (*Item, bool) {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i], true
		}
	}
	return nil, false
}

// Vehicle holds the free-form vehicle descriptor (vin, year, make, model,
// odometer, province, ...). Values are kept as strings; the sanitizer coerces
// scalars on the way in.
type Vehicle map[string]string

// Draft is a single in-progress or completed inspection record, locally owned
// until synced. LocalID is assigned by the draft store and is immutable;
// CanonicalID is assigned once by the remote authority and never changes.
type Draft struct {
	LocalID         int64      `json:"localId"`
	CanonicalID     string     `json:"canonicalId,omitempty"`
	Vehicle         Vehicle    `json:"vehicle"`
	Sections        []Section  `json:"sections"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Synced          bool       `json:"synced"`
	SyncedAt        *time.Time `json:"syncedAt,omitempty"`
	LocallyModified bool       `json:"locallyModified,omitempty"`
}

// SectionBySlug returns a pointer into d.Sections for the given slug.
func (d *Draft) SectionBySlug(slug string) (*Section, bool) {
	for i := range d.Sections {
		if d.Sections[i].Slug == slug {
			return &d.Sections[i], true
		}
	}
	return nil, false
}

// RemoteInspection is a record as returned by the remote authority. The ID is
// the canonical identity and is distinct from any local identity.
type RemoteInspection struct {
	ID        string        `json:"id"`
	Vehicle   Vehicle       `json:"vehicle"`
	Sections  []WireSection `json:"sections"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Deleted   bool          `json:"deleted,omitempty"`
}
