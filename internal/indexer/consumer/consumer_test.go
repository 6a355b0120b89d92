package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/indexer"
	"github.com/karteio/geosearch/internal/ingestion"
	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/store/memstore"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
	"github.com/karteio/geosearch/pkg/logger"
)

func newTestConsumer(t *testing.T) (*Consumer, *memstore.Store) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	st := memstore.New()
	writer := indexer.New(st, textpipe.New(nil), cfg.Search, cfg.Index)
	return &Consumer{
		writer: writer,
		logger: logger.WithComponent("document-consumer"),
	}, st
}

func eventPayload(t *testing.T, event ingestion.DocumentEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	return data
}

func TestHandleIndexEvent(t *testing.T) {
	c, st := newTestConsumer(t)
	payload := eventPayload(t, ingestion.DocumentEvent{
		Action: ingestion.ActionIndex,
		ID:     "s-1",
		Document: &document.Document{
			ID: "s-1", Type: "street", Name: "Rue des Lilas",
			Lat: 48.98, Lon: 2.05,
		},
		At: time.Now().UTC(),
	})
	if err := c.handle(context.Background(), []byte("s-1"), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := st.DocGet(context.Background(), "s-1"); err != nil {
		t.Errorf("document not indexed: %v", err)
	}
}

func TestHandleDeleteEvent(t *testing.T) {
	c, st := newTestConsumer(t)
	index := eventPayload(t, ingestion.DocumentEvent{
		Action: ingestion.ActionIndex,
		ID:     "s-1",
		Document: &document.Document{
			ID: "s-1", Type: "street", Name: "Rue des Lilas",
			Lat: 48.98, Lon: 2.05,
		},
	})
	if err := c.handle(context.Background(), []byte("s-1"), index); err != nil {
		t.Fatalf("handle index: %v", err)
	}

	del := eventPayload(t, ingestion.DocumentEvent{Action: ingestion.ActionDelete, ID: "s-1"})
	if err := c.handle(context.Background(), []byte("s-1"), del); err != nil {
		t.Fatalf("handle delete: %v", err)
	}
	if _, err := st.DocGet(context.Background(), "s-1"); err != store.ErrNotFound {
		t.Errorf("document survived delete: %v", err)
	}
}

// Poison messages must be dropped, not retried: returning an error would
// block the partition forever.
func TestHandleDropsPoisonMessages(t *testing.T) {
	c, _ := newTestConsumer(t)
	poison := [][]byte{
		[]byte(`not json`),
		eventPayload(t, ingestion.DocumentEvent{Action: "replay", ID: "x"}),
		eventPayload(t, ingestion.DocumentEvent{Action: ingestion.ActionIndex, ID: "x"}),
	}
	for i, payload := range poison {
		if err := c.handle(context.Background(), nil, payload); err != nil {
			t.Errorf("payload %d: error %v, want drop", i, err)
		}
	}
}

func TestHandleDeleteUnknownID(t *testing.T) {
	c, _ := newTestConsumer(t)
	del := eventPayload(t, ingestion.DocumentEvent{Action: ingestion.ActionDelete, ID: "ghost"})
	if err := c.handle(context.Background(), nil, del); err != nil {
		t.Errorf("delete of unknown id: %v", err)
	}
}
