package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/karteio/geosearch/internal/document"
)

func validDoc() *document.Document {
	return &document.Document{
		ID:   "street-1",
		Type: "street",
		Name: "Rue des Lilas",
		Lat:  48.98,
		Lon:  2.05,
	}
}

func TestValidateDocumentAccepts(t *testing.T) {
	if err := ValidateDocument(validDoc()); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
}

func TestValidateDocumentFieldErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*document.Document)
		wantField string
	}{
		{"missing id", func(d *document.Document) { d.ID = "  " }, "id"},
		{"id too long", func(d *document.Document) { d.ID = strings.Repeat("x", 256) }, "id"},
		{"missing name", func(d *document.Document) { d.Name = "" }, "name"},
		{"name too long", func(d *document.Document) { d.Name = strings.Repeat("x", 513) }, "name"},
		{"latitude range", func(d *document.Document) { d.Lat = 91 }, "lat"},
		{"longitude range", func(d *document.Document) { d.Lon = -181 }, "lon"},
		{"importance range", func(d *document.Document) { d.Importance = 1.5 }, "importance"},
		{"housenumber coordinates", func(d *document.Document) {
			d.HouseNumbers = map[string]document.HouseNumber{
				"8": {Raw: "8", Lat: 95, Lon: 2},
			}
		}, "housenumbers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDoc()
			tt.mutate(doc)
			err := ValidateDocument(doc)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type %T", err)
			}
			if _, ok := verr.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want %q flagged", verr.Fields, tt.wantField)
			}
		})
	}
}

func TestValidateDocumentCollectsAllFields(t *testing.T) {
	doc := &document.Document{Lat: 100, Lon: 200}
	err := ValidateDocument(doc)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type %T", err)
	}
	for _, field := range []string{"id", "name", "lat", "lon"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("field %q not reported: %v", field, verr.Fields)
		}
	}
}
