package models

import "time"

type ChatMessage struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"order_id"`
	SenderID   string     `json:"sender_id"`
	SenderRole Role       `json:"sender_role"`
	Text       string     `json:"text"`
	SentAt     time.Time  `json:"sent_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

func (m ChatMessage) IsRead() bool {
	return m.ReadAt != nil
}
