package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/indexer"
	"github.com/karteio/geosearch/internal/search"
	"github.com/karteio/geosearch/internal/store/memstore"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	st := memstore.New()
	pipeline := textpipe.New(nil)
	w := indexer.New(st, pipeline, cfg.Search, cfg.Index)
	docs := []*document.Document{
		{
			ID: "s-lilas", Type: "street", Name: "Rue des Lilas",
			City: "Andrésy", Postcode: "78570",
			Lat: 48.9808, Lon: 2.0567, Importance: 0.3,
		},
		{
			ID: "c-andresy", Type: "city", Name: "Andrésy",
			City: "Andrésy", Postcode: "78570", CityCode: "78015",
			Lat: 48.9790, Lon: 2.0500, Importance: 0.6,
		},
		// A few metres from s-lilas so reverse lookups can see both.
		{
			ID: "s-tilleuls", Type: "street", Name: "Rue des Tilleuls",
			City: "Andrésy", Postcode: "78570",
			Lat: 48.9809, Lon: 2.0569, Importance: 0.2,
		},
	}
	for _, doc := range docs {
		if err := w.Index(context.Background(), doc); err != nil {
			t.Fatalf("indexing %s: %v", doc.ID, err)
		}
	}

	engine := search.New(st, pipeline, cfg.Search, cfg.Index)
	h := New(engine, st, nil, nil, nil, HandlerConfig{
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxResults:      cfg.Search.MaxResults,
		Autocomplete:    cfg.Search.Autocomplete,
		FuzzyEditBudget: cfg.Search.FuzzyEditBudget,
		FilterFields:    cfg.Search.FilterFields,
	})
	srv := httptest.NewServer(NewRouter(h, nil, RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestSearchEndpointGeoJSON(t *testing.T) {
	srv := newTestServer(t)
	body := getJSON(t, srv.URL+"/api/v1/search?q=rue+des+lilas+andresy", http.StatusOK)

	if body["type"] != "FeatureCollection" {
		t.Errorf("type = %v", body["type"])
	}
	if body["query"] != "rue des lilas andresy" {
		t.Errorf("query = %v", body["query"])
	}
	features, ok := body["features"].([]any)
	if !ok || len(features) == 0 {
		t.Fatalf("features = %v", body["features"])
	}
	first := features[0].(map[string]any)
	if first["type"] != "Feature" {
		t.Errorf("feature type = %v", first["type"])
	}
	props := first["properties"].(map[string]any)
	if props["id"] != "s-lilas" {
		t.Errorf("top feature id = %v", props["id"])
	}
	if props["label"] != "Rue des Lilas 78570 Andrésy" {
		t.Errorf("label = %v", props["label"])
	}
	geom := first["geometry"].(map[string]any)
	coords := geom["coordinates"].([]any)
	// GeoJSON order: longitude first.
	if coords[0].(float64) != 2.0567 || coords[1].(float64) != 48.9808 {
		t.Errorf("coordinates = %v", coords)
	}
}

func TestSearchEndpointBadRequests(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name string
		path string
	}{
		{"missing q", "/api/v1/search"},
		{"bad limit", "/api/v1/search?q=paris&limit=zero"},
		{"negative limit", "/api/v1/search?q=paris&limit=-2"},
		{"bad lat", "/api/v1/search?q=paris&lat=abc&lon=2.0"},
		{"lat out of range", "/api/v1/search?q=paris&lat=95&lon=2.0"},
		{"empty filter", "/api/v1/search?q=paris&type="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := getJSON(t, srv.URL+tt.path, http.StatusBadRequest)
			if body["error"] == "" {
				t.Error("no error message in body")
			}
		})
	}
}

func TestSearchEndpointFilters(t *testing.T) {
	srv := newTestServer(t)
	body := getJSON(t, srv.URL+"/api/v1/search?q=andresy&type=city", http.StatusOK)
	features := body["features"].([]any)
	if len(features) != 1 {
		t.Fatalf("got %d features, want 1", len(features))
	}
	props := features[0].(map[string]any)["properties"].(map[string]any)
	if props["id"] != "c-andresy" || props["citycode"] != "78015" {
		t.Errorf("properties = %v", props)
	}
}

func TestReverseEndpoint(t *testing.T) {
	srv := newTestServer(t)
	body := getJSON(t, srv.URL+"/api/v1/reverse?lat=48.9808&lon=2.0567&limit=1", http.StatusOK)
	features := body["features"].([]any)
	if len(features) != 1 {
		t.Fatalf("features = %v", body["features"])
	}
	props := features[0].(map[string]any)["properties"].(map[string]any)
	if props["id"] != "s-lilas" {
		t.Errorf("nearest = %v", props["id"])
	}

	// The lng spelling is accepted too.
	body = getJSON(t, srv.URL+"/api/v1/reverse?lat=48.9808&lng=2.0567&limit=1", http.StatusOK)
	if len(body["features"].([]any)) != 1 {
		t.Error("lng spelling rejected")
	}
}

func TestReverseEndpointDefaultLimitIsOne(t *testing.T) {
	srv := newTestServer(t)

	// Two documents sit within metres of the queried point, yet without
	// an explicit limit only the nearest one comes back.
	body := getJSON(t, srv.URL+"/api/v1/reverse?lat=48.9808&lon=2.0567", http.StatusOK)
	features := body["features"].([]any)
	if len(features) != 1 {
		t.Fatalf("got %d features without limit, want 1", len(features))
	}
	props := features[0].(map[string]any)["properties"].(map[string]any)
	if props["id"] != "s-lilas" {
		t.Errorf("nearest = %v", props["id"])
	}

	body = getJSON(t, srv.URL+"/api/v1/reverse?lat=48.9808&lon=2.0567&limit=2", http.StatusOK)
	if got := len(body["features"].([]any)); got != 2 {
		t.Errorf("got %d features with limit=2, want 2", got)
	}
}

func TestReverseEndpointBadRequests(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{
		"/api/v1/reverse",
		"/api/v1/reverse?lat=48.98",
		"/api/v1/reverse?lat=48.98&lon=999",
	} {
		getJSON(t, srv.URL+path, http.StatusBadRequest)
	}
}

func TestGetDocumentEndpoint(t *testing.T) {
	srv := newTestServer(t)
	body := getJSON(t, srv.URL+"/api/v1/documents/s-lilas", http.StatusOK)
	if body["id"] != "s-lilas" || body["name"] != "Rue des Lilas" {
		t.Errorf("document = %v", body)
	}
	getJSON(t, srv.URL+"/api/v1/documents/ghost", http.StatusNotFound)
}

func TestIngestDisabledWithoutPublisher(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/documents", "application/json",
		strings.NewReader(`{"id":"x","name":"Rue Neuve","lat":48.0,"lon":2.0}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestCacheStatsDisabled(t *testing.T) {
	srv := newTestServer(t)
	body := getJSON(t, srv.URL+"/api/v1/cache/stats", http.StatusOK)
	if body["status"] != "disabled" {
		t.Errorf("body = %v", body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/search?q=andresy", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

func TestDecodeDocumentsSingleAndArray(t *testing.T) {
	single := httptest.NewRequest(http.MethodPost, "/api/v1/documents",
		strings.NewReader(`{"id":"a","name":"Rue A"}`))
	docs, err := decodeDocuments(single)
	if err != nil || len(docs) != 1 || docs[0].ID != "a" {
		t.Errorf("single decode = %v, %v", docs, err)
	}

	array := httptest.NewRequest(http.MethodPost, "/api/v1/documents",
		strings.NewReader(`[{"id":"a","name":"Rue A"},{"id":"b","name":"Rue B"}]`))
	docs, err = decodeDocuments(array)
	if err != nil || len(docs) != 2 {
		t.Errorf("array decode = %v, %v", docs, err)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/documents",
		strings.NewReader(`{"id":`))
	if _, err := decodeDocuments(bad); err == nil {
		t.Error("malformed JSON accepted")
	}
}
