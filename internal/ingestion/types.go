// Package ingestion defines the document event schema carried on the Kafka
// documents topic, shared by the ingestion publisher and the indexer
// consumer.
package ingestion

import (
	"time"

	"github.com/karteio/geosearch/internal/document"
)

// Event actions.
const (
	ActionIndex  = "index"
	ActionDelete = "delete"
)

// DocumentEvent is the wire format on the documents topic.
type DocumentEvent struct {
	Action   string             `json:"action"`
	ID       string             `json:"id"`
	Document *document.Document `json:"document,omitempty"`
	At       time.Time          `json:"at"`
}

// IngestResponse is returned after documents are accepted for indexing.
type IngestResponse struct {
	Accepted int    `json:"accepted"`
	Status   string `json:"status"`
}
