package models

import (
	"encoding/json"
	"time"
)

const (
	TableOrders           = "orders"
	TableSubjectLocations = "subject_locations"
	TableChatMessages     = "chat_messages"
)

type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// ChangeEvent is a row-level change pushed by the backend. Delivery is
// at-least-once and unordered.
type ChangeEvent struct {
	Table   string            `json:"table"`
	Op      ChangeOp          `json:"op"`
	RowID   string            `json:"row_id"`
	Keys    map[string]string `json:"keys,omitempty"`
	Payload json.RawMessage   `json:"payload"`
	At      time.Time         `json:"at"`
}

// ChangeFilter selects events of one table whose Column equals Value. Column
// "id" matches RowID, any other column matches Keys.
type ChangeFilter struct {
	Table  string
	Column string
	Value  string
}

func (f ChangeFilter) Matches(ev ChangeEvent) bool {
	if ev.Table != f.Table {
		return false
	}
	if f.Column == "" || f.Column == "id" {
		return f.Value == "" || ev.RowID == f.Value
	}
	return ev.Keys[f.Column] == f.Value
}
