// Package validator checks incoming documents before they are accepted for
// indexing and returns per-field error details.
package validator

import (
	"fmt"
	"strings"

	"github.com/karteio/geosearch/internal/document"
)

const (
	maxNameLength = 512
	maxIDLength   = 255
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// ValidateDocument checks the constraints a document must meet to be
// indexable and returns a ValidationError listing every violated field.
func ValidateDocument(doc *document.Document) error {
	errs := make(map[string]string)

	id := strings.TrimSpace(doc.ID)
	if id == "" {
		errs["id"] = "id is required"
	} else if len(id) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		errs["name"] = "name is required"
	} else if len(name) > maxNameLength {
		errs["name"] = fmt.Sprintf("name must be at most %d characters", maxNameLength)
	}
	if doc.Lat < -90 || doc.Lat > 90 {
		errs["lat"] = "latitude must be within [-90, 90]"
	}
	if doc.Lon < -180 || doc.Lon > 180 {
		errs["lon"] = "longitude must be within [-180, 180]"
	}
	if doc.Importance < 0 || doc.Importance > 1 {
		errs["importance"] = "importance must be within [0, 1]"
	}
	for number, hn := range doc.HouseNumbers {
		if hn.Lat < -90 || hn.Lat > 90 || hn.Lon < -180 || hn.Lon > 180 {
			errs["housenumbers"] = fmt.Sprintf("entry %q has out-of-range coordinates", number)
			break
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
