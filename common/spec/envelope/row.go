// Package envelope defines the row-insert notification that a database
// change feed POSTs to kioku's embedding hook (POST /hooks/embeddings).
//
// Two body shapes are accepted:
//
//	{"table": "messages", "record_id": 12, "content": "...", "has_embedding": false}
//
// and the database-webhook shape
//
//	{"type": "INSERT", "table": "messages", "record": {"id": 12, "content": "...", "embedding": null}}
//
// where conversation_summaries rows carry their text in "summary". Both are
// validated against an embedded JSON schema and normalised into a RowEvent.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RowEvent is the normalised notification.
type RowEvent struct {
	Table        string `json:"table"`
	RecordID     int64  `json:"record_id"`
	Content      string `json:"content"`
	HasEmbedding bool   `json:"has_embedding"`
}

const rowSchemaURL = "kioku://schemas/row-inserted.json"

const rowSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "table": {"enum": ["messages", "memory", "conversation_summaries"]},
    "id": {"type": "integer", "minimum": 1}
  },
  "oneOf": [
    {
      "type": "object",
      "required": ["table", "record_id"],
      "properties": {
        "table": {"$ref": "#/$defs/table"},
        "record_id": {"$ref": "#/$defs/id"},
        "content": {"type": "string"},
        "has_embedding": {"type": "boolean"}
      },
      "not": {"required": ["record"]}
    },
    {
      "type": "object",
      "required": ["type", "table", "record"],
      "properties": {
        "type": {"const": "INSERT"},
        "table": {"$ref": "#/$defs/table"},
        "schema": {"type": "string"},
        "record": {
          "type": "object",
          "required": ["id"],
          "properties": {
            "id": {"$ref": "#/$defs/id"},
            "content": {"type": "string"},
            "summary": {"type": "string"},
            "embedding": {"type": ["null", "string", "array"]}
          }
        }
      }
    }
  ]
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func rowInsertedSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString(rowSchemaURL, rowSchema)
	})
	return schema, schemaErr
}

// webhookBody is the database-webhook shape.
type webhookBody struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	Record struct {
		ID        int64           `json:"id"`
		Content   string          `json:"content"`
		Summary   string          `json:"summary"`
		Embedding json.RawMessage `json:"embedding"`
	} `json:"record"`
}

// ParseRowEvent validates data against the row-insert schema and returns
// the normalised event.
func ParseRowEvent(data []byte) (*RowEvent, error) {
	s, err := rowInsertedSchema()
	if err != nil {
		return nil, fmt.Errorf("envelope schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("envelope parse: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("envelope validate: %w", err)
	}

	if obj, _ := doc.(map[string]any); obj != nil {
		if _, ok := obj["record"]; ok {
			return parseWebhook(data)
		}
	}

	var ev RowEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("envelope parse: %w", err)
	}
	return &ev, nil
}

func parseWebhook(data []byte) (*RowEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("envelope parse: %w", err)
	}

	content := body.Record.Content
	if body.Table == "conversation_summaries" {
		content = body.Record.Summary
	}

	emb := bytes.TrimSpace(body.Record.Embedding)
	hasEmbedding := len(emb) > 0 && !bytes.Equal(emb, []byte("null"))

	return &RowEvent{
		Table:        body.Table,
		RecordID:     body.Record.ID,
		Content:      content,
		HasEmbedding: hasEmbedding,
	}, nil
}
