// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"encoding/json"
	"time"
)

// Record is a reconciled inspection as stored and served by the endpoint.
// Vehicle and sections are kept as JSON documents; the server never edits
// their contents, it only reconciles whole records.
type Record struct {
	ID        string          `json:"id"`
	Vehicle   json.RawMessage `json:"vehicle"`
	Sections  json.RawMessage `json:"sections"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// PushResponse acknowledges a reconciled push with the record's canonical
// identity. Clients adopt this id and never change it afterwards.
type PushResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the JSON error envelope for all handler failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
