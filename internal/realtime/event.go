package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/karyadesign/karya-api/internal/models"
)

// Tables carried on the change feed.
const (
	TableOrders   = "design_orders"
	TableMessages = "chat_messages"
)

// EventType discriminates the change event union.
type EventType string

// Change event kinds.
const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// changeEventSchema validates the envelope shape before anything is decoded.
// Insert/update events must carry a full row image; deletes carry only an id.
const changeEventSchema = `{
	"type": "object",
	"required": ["event_type", "table"],
	"properties": {
		"event_type": {"enum": ["insert", "update", "delete"]},
		"table": {"type": "string", "minLength": 1},
		"row": {"type": "object"},
		"id": {"type": "string", "minLength": 1}
	},
	"allOf": [
		{
			"if": {"properties": {"event_type": {"enum": ["insert", "update"]}}},
			"then": {"required": ["row"]}
		},
		{
			"if": {"properties": {"event_type": {"const": "delete"}}},
			"then": {"required": ["id"]}
		}
	]
}`

var eventSchema = jsonschema.MustCompileString("change_event.json", changeEventSchema)

// ChangeEvent is the validated tagged union produced at the subscription
// boundary: Insert{table,row} | Update{table,row} | Delete{table,id}.
type ChangeEvent struct {
	Type   EventType
	Table  string
	Row    json.RawMessage
	RowID  string
	Source string
}

type changeEventWire struct {
	EventType string          `json:"event_type"`
	Table     string          `json:"table"`
	Row       json.RawMessage `json:"row,omitempty"`
	ID        string          `json:"id,omitempty"`
	Source    string          `json:"source,omitempty"`
}

// DecodeChangeEvent validates and decodes a raw feed payload. Malformed
// payloads return an error so the subscription layer can drop them.
func DecodeChangeEvent(payload []byte) (ChangeEvent, error) {
	var generic interface{}
	if err := json.Unmarshal(payload, &generic); err != nil {
		return ChangeEvent{}, fmt.Errorf("change event is not valid json: %w", err)
	}

	if err := eventSchema.Validate(generic); err != nil {
		return ChangeEvent{}, fmt.Errorf("change event failed shape validation: %w", err)
	}

	var wire changeEventWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return ChangeEvent{}, fmt.Errorf("change event decode failed: %w", err)
	}

	event := ChangeEvent{
		Type:   EventType(wire.EventType),
		Table:  strings.TrimSpace(wire.Table),
		Row:    wire.Row,
		RowID:  strings.TrimSpace(wire.ID),
		Source: wire.Source,
	}

	return event, nil
}

// EncodeChange serializes a change event for the feed. Source identifies the
// emitting node so consumers can suppress their own events.
func EncodeChange(eventType EventType, table string, row interface{}, source string) ([]byte, error) {
	rowPayload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change row: %w", err)
	}

	return json.Marshal(changeEventWire{
		EventType: string(eventType),
		Table:     table,
		Row:       rowPayload,
		Source:    source,
	})
}

// EncodeDelete serializes a delete event carrying only the row id.
func EncodeDelete(table, id, source string) ([]byte, error) {
	return json.Marshal(changeEventWire{
		EventType: string(EventDelete),
		Table:     table,
		ID:        id,
		Source:    source,
	})
}

// OrderRow decodes the full order image carried by the event. Rows missing
// identity or status fields are rejected rather than merged as partials.
func (e ChangeEvent) OrderRow() (models.DesignOrder, error) {
	if e.Table != TableOrders {
		return models.DesignOrder{}, fmt.Errorf("event table %q does not carry an order row", e.Table)
	}

	var order models.DesignOrder
	if err := json.Unmarshal(e.Row, &order); err != nil {
		return models.DesignOrder{}, fmt.Errorf("order row decode failed: %w", err)
	}

	if order.ID == "" || order.ClientID == "" || order.Status == "" {
		return models.DesignOrder{}, fmt.Errorf("order row is missing required fields")
	}

	return order, nil
}

// MessageRow decodes the full message image carried by the event.
func (e ChangeEvent) MessageRow() (models.ChatMessage, error) {
	if e.Table != TableMessages {
		return models.ChatMessage{}, fmt.Errorf("event table %q does not carry a message row", e.Table)
	}

	var message models.ChatMessage
	if err := json.Unmarshal(e.Row, &message); err != nil {
		return models.ChatMessage{}, fmt.Errorf("message row decode failed: %w", err)
	}

	if message.ID == "" || message.OrderID == "" || message.SenderID == "" || message.CreatedAt.IsZero() {
		return models.ChatMessage{}, fmt.Errorf("message row is missing required fields")
	}

	return message, nil
}
