package model

import (
	"fmt"
	"strings"
)

// RawEntry is one item of a provider payload, before normalization.
type RawEntry map[string]any

// ResultEntry is one discrete outcome returned by a workflow for a job.
type ResultEntry struct {
	Status      string         `json:"status"`
	Description string         `json:"description,omitempty"`
	Value       *float64       `json:"value,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	// MatchKey identifies the result shape when merging near-duplicate rows.
	MatchKey string `json:"-"`
}

// DuplicateStrategy decides where entries after the first are stored.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type DuplicateStrategy string

const (
	// DuplicateCopy inserts a fresh row per extra entry.
	DuplicateCopy DuplicateStrategy = "copy"
	// DuplicateMerge updates a matching row when one exists and inserts otherwise.
	DuplicateMerge DuplicateStrategy = "merge"
)

// Valid returns true if the strategy is known.
func (d DuplicateStrategy) Valid() bool {
	return d == DuplicateCopy || d == DuplicateMerge
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *DuplicateStrategy) UnmarshalText(text []byte) error {
	v := DuplicateStrategy(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid DuplicateStrategy: %q", v)
	}
	*d = v
	return nil
}
