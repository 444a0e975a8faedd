// Package transfer exports triggers to portable documents and imports them
// into an organization.
package transfer

import (
	"encoding/json"
	"io"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/models"
)

// CurrentVersion is the version written by exports
const CurrentVersion = 11

// FlowRef identifies the workflow a trigger starts
type FlowRef struct {
	ID   int64  `json:"id" validate:"gt=0"`
	Name string `json:"name"`
}

// GroupRef identifies a contact group
type GroupRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required"`
}

// TriggerDocument is the exported form of one trigger
type TriggerDocument struct {
	TriggerType models.TriggerType `json:"trigger_type" validate:"required,trigger_type"`
	Keyword     string             `json:"keyword" validate:"required_if=TriggerType K,excluded_unless=TriggerType K,keyword"`
	Flow        FlowRef            `json:"flow"`
	Groups      []GroupRef         `json:"groups" validate:"dive"`
	// Channel is absent from older exports
	Channel *int64 `json:"channel"`
}

// Document is an export file
type Document struct {
	Version  int               `json:"version"`
	Site     string            `json:"site,omitempty"`
	Triggers []TriggerDocument `json:"triggers" validate:"dive"`
}

// Decode reads a document from r
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.ValidationError("invalid import document").WithCause(err)
	}
	return &doc, nil
}

// Encode writes doc to w as indented JSON
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
