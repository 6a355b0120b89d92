package server

import (
	"github.com/karteio/geosearch/internal/search"
)

// geometry is a GeoJSON Point.
type geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// featureCollection is the GeoJSON response envelope for search and reverse
// endpoints.
type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
	Query    string    `json:"query,omitempty"`
	Limit    int       `json:"limit"`
}

// toFeatureCollection renders results as GeoJSON, coordinates in
// [longitude, latitude] order.
func toFeatureCollection(query string, limit int, results []*search.Result) featureCollection {
	fc := featureCollection{
		Type:     "FeatureCollection",
		Features: make([]feature, 0, len(results)),
		Query:    query,
		Limit:    limit,
	}
	for _, r := range results {
		props := map[string]any{
			"id":         r.Doc.ID,
			"type":       r.Type,
			"label":      r.Label,
			"name":       r.Doc.Name,
			"score":      r.Score,
			"importance": r.Doc.Importance,
		}
		if r.Doc.City != "" {
			props["city"] = r.Doc.City
		}
		if r.Doc.Postcode != "" {
			props["postcode"] = r.Doc.Postcode
		}
		if r.Doc.CityCode != "" {
			props["citycode"] = r.Doc.CityCode
		}
		if r.Doc.Context != "" {
			props["context"] = r.Doc.Context
		}
		if r.HouseNumber != nil {
			props["housenumber"] = r.HouseNumber.Raw
		}
		if r.DistanceKm > 0 {
			props["distance"] = r.DistanceKm
		}
		fc.Features = append(fc.Features, feature{
			Type: "Feature",
			Geometry: geometry{
				Type:        "Point",
				Coordinates: [2]float64{r.Lon, r.Lat},
			},
			Properties: props,
		})
	}
	return fc
}
