// Package document defines the address document model shared by the
// ingestion pipeline, the index writer, and the search engine.
package document

import (
	"fmt"
	"strings"
)

// HouseNumber is one numbered entry attached to a street document, with its
// own coordinates.
type HouseNumber struct {
	Raw string  `json:"raw"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Document is a geocodable place: a street, a locality, a city.
type Document struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	City       string  `json:"city,omitempty"`
	Postcode   string  `json:"postcode,omitempty"`
	CityCode   string  `json:"citycode,omitempty"`
	Context    string  `json:"context,omitempty"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Importance float64 `json:"importance"`
	// HouseNumbers maps the normalized number ("8", "12bis") to its entry.
	HouseNumbers map[string]HouseNumber `json:"housenumbers,omitempty"`
}

// Label is the display string for the document: name, optional postcode and
// city.
func (d *Document) Label() string {
	parts := []string{d.Name}
	if d.Postcode != "" {
		parts = append(parts, d.Postcode)
	}
	if d.City != "" && !strings.EqualFold(d.City, d.Name) {
		parts = append(parts, d.City)
	}
	return strings.Join(parts, " ")
}

// FilterValue returns the document's value for a filterable field, or ""
// when the field is not one of the known filter fields.
func (d *Document) FilterValue(field string) string {
	switch field {
	case "type":
		return d.Type
	case "postcode":
		return d.Postcode
	case "citycode":
		return d.CityCode
	case "city":
		return d.City
	}
	return ""
}

// Validate checks the minimal constraints for a document to be indexable.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("document %s: name is required", d.ID)
	}
	if d.Lat < -90 || d.Lat > 90 {
		return fmt.Errorf("document %s: latitude %f out of range", d.ID, d.Lat)
	}
	if d.Lon < -180 || d.Lon > 180 {
		return fmt.Errorf("document %s: longitude %f out of range", d.ID, d.Lon)
	}
	return nil
}
