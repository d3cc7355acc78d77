// Package model contains the request and item types shared by the
// coordinator, the stores and the HTTP layer.
package model

import (
	"fmt"
	"time"
)

// Status describes where a bulk request is in its lifecycle. Statuses only
// move forward: PENDING -> PROCESSING -> one of the terminal values.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusProcessing     Status = "PROCESSING"
	StatusCompleted      Status = "COMPLETED"
	StatusPartialSuccess Status = "PARTIAL_SUCCESS"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether no further mutation can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartialSuccess, StatusFailed:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusPartialSuccess, StatusFailed:
		return true
	}
	return false
}

// Kind selects whether a request ends with an assembled archive.
type Kind string

const (
	// KindValidate only checks every identifier against storage.
	KindValidate Kind = "VALIDATE"
	// KindDownload additionally zips the recordings that were found.
	KindDownload Kind = "DOWNLOAD"
)

// IsValid reports whether k is a known request kind.
func (k Kind) IsValid() bool {
	return k == KindValidate || k == KindDownload
}

// RequiresArtifact reports whether requests of this kind produce an archive.
func (k Kind) RequiresArtifact() bool {
	return k == KindDownload
}

// Outcome is the per-identifier result of a resolve attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeNotFound Outcome = "NOT_FOUND"
	OutcomeError    Outcome = "ERROR"
)

// BulkRequest is one submitted batch. ArtifactLocation is a server-side path
// and never leaves the process through JSON.
type BulkRequest struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind"`
	RequestedBy      string     `json:"requestedBy"`
	Identifiers      []string   `json:"identifiers"`
	Status           Status     `json:"status"`
	RequestedAt      time.Time  `json:"requestedAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ArtifactLocation *string    `json:"-"`
	FailureReason    *string    `json:"failureReason,omitempty"`
}

// HasArtifact reports whether an archive is ready to be served.
func (r *BulkRequest) HasArtifact() bool {
	return r.Status.Terminal() && r.ArtifactLocation != nil && *r.ArtifactLocation != ""
}

// ItemResult records what happened to one identifier of a request.
// ObjectName, SizeBytes and LastModified are only set on success; ErrorMessage
// only on NOT_FOUND or ERROR.
type ItemResult struct {
	RequestID    string     `json:"requestId"`
	Identifier   string     `json:"identifier"`
	Outcome      Outcome    `json:"outcome"`
	ObjectName   string     `json:"objectName,omitempty"`
	SizeBytes    *int64     `json:"sizeBytes,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
}

// Validate checks that the populated fields agree with the outcome.
func (i ItemResult) Validate() error {
	if i.Identifier == "" {
		return fmt.Errorf("item result: empty identifier")
	}
	switch i.Outcome {
	case OutcomeSuccess:
		if i.SizeBytes == nil || i.LastModified == nil {
			return fmt.Errorf("item %s: success without size or modification time", i.Identifier)
		}
		if i.ErrorMessage != nil {
			return fmt.Errorf("item %s: success with error message", i.Identifier)
		}
	case OutcomeNotFound, OutcomeError:
		if i.ErrorMessage == nil || *i.ErrorMessage == "" {
			return fmt.Errorf("item %s: %s without error message", i.Identifier, i.Outcome)
		}
		if i.SizeBytes != nil || i.LastModified != nil {
			return fmt.Errorf("item %s: %s with object metadata", i.Identifier, i.Outcome)
		}
	default:
		return fmt.Errorf("item %s: unknown outcome %q", i.Identifier, i.Outcome)
	}
	return nil
}

// Succeeded builds a SUCCESS result.
func Succeeded(identifier, objectName string, size int64, modified time.Time) ItemResult {
	mod := modified.UTC()
	return ItemResult{
		Identifier:   identifier,
		Outcome:      OutcomeSuccess,
		ObjectName:   objectName,
		SizeBytes:    &size,
		LastModified: &mod,
	}
}

// Missing builds a NOT_FOUND result.
func Missing(identifier, msg string) ItemResult {
	return ItemResult{Identifier: identifier, Outcome: OutcomeNotFound, ErrorMessage: &msg}
}

// Errored builds an ERROR result.
func Errored(identifier, msg string) ItemResult {
	return ItemResult{Identifier: identifier, Outcome: OutcomeError, ErrorMessage: &msg}
}

// Summary counts item outcomes. Pending is the number of identifiers that
// have no result row yet.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	NotFound  int `json:"notFound"`
	Errored   int `json:"errored"`
	Pending   int `json:"pending"`
}

// Snapshot is the status view returned to pollers.
type Snapshot struct {
	Request BulkRequest  `json:"request"`
	Items   []ItemResult `json:"items"`
	Summary Summary      `json:"summary"`
}

// NewSnapshot orders items by their position in the request and fills in
// the summary.
func NewSnapshot(req BulkRequest, items []ItemResult) *Snapshot {
	byID := make(map[string]ItemResult, len(items))
	for _, item := range items {
		byID[item.Identifier] = item
	}
	snap := &Snapshot{
		Request: req,
		Items:   make([]ItemResult, 0, len(items)),
		Summary: Summary{Total: len(req.Identifiers)},
	}
	for _, id := range req.Identifiers {
		item, ok := byID[id]
		if !ok {
			snap.Summary.Pending++
			continue
		}
		snap.Items = append(snap.Items, item)
		switch item.Outcome {
		case OutcomeSuccess:
			snap.Summary.Succeeded++
		case OutcomeNotFound:
			snap.Summary.NotFound++
		default:
			snap.Summary.Errored++
		}
	}
	return snap
}
