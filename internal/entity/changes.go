// ABOUTME: Validation of change summaries before they are applied
// ABOUTME: Checks attribute and blob names and value types

package entity

import (
	"unicode"

	"github.com/2389/entity-gateway/internal/store"
)

// MaxNameLength is the longest accepted attribute or blob name, in bytes
const MaxNameLength = 255

func validateName(field, name string) error {
	if name == "" {
		return NewValidationError(field, "name must not be empty")
	}
	if len(name) > MaxNameLength {
		return NewValidationError(field, "name is longer than %d bytes", MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return NewValidationError(field, "name must not contain control characters")
		}
	}
	return nil
}

// ValidateBlobName checks a blob name, which additionally must be usable as a
// single path segment
func ValidateBlobName(name string) error {
	if err := validateName("blobs", name); err != nil {
		return err
	}
	if name == "." || name == ".." {
		return NewValidationError("blobs", "name %q is reserved", name)
	}
	for _, r := range name {
		if r == '/' || r == '\\' {
			return NewValidationError("blobs", "name must not contain path separators")
		}
	}
	return nil
}

// ValidateChange checks every entry of a change summary. A nil summary is valid.
func ValidateChange(change *store.ChangeSummary) error {
	if change == nil {
		return nil
	}
	for name, v := range change.Properties {
		if err := validateName("properties", name); err != nil {
			return err
		}
		if v != nil && !v.Type.Valid() {
			return NewValidationError("properties", "attribute %q has unsupported type %q", name, v.Type)
		}
	}
	for name := range change.Blobs {
		if err := ValidateBlobName(name); err != nil {
			return err
		}
	}
	return nil
}

// forCreate drops removals, which have nothing to remove on a new entity
func forCreate(change *store.ChangeSummary) *store.ChangeSummary {
	if change == nil {
		return &store.ChangeSummary{}
	}
	out := &store.ChangeSummary{
		Properties: make(map[string]*store.Value, len(change.Properties)),
		Blobs:      make(map[string]*store.BlobChange, len(change.Blobs)),
	}
	for name, v := range change.Properties {
		if v != nil {
			out.Properties[name] = v
		}
	}
	for name, b := range change.Blobs {
		if b != nil {
			out.Blobs[name] = b
		}
	}
	return out
}
