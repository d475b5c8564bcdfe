package chat

import "time"

// Conversation groups turns under one session and carries the analytics
// rollup. Sentiment and EmotionalState stay nil until the first explicit
// analysis request.
type Conversation struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	CreatedAt      time.Time `json:"createdAt"`
	Sentiment      *float64  `json:"sentiment,omitempty"`
	Topics         []string  `json:"topics,omitempty"`
	EmotionalState *string   `json:"emotionalState,omitempty"`
}

// Summary is the read-only row returned by the recent-conversations view.
type Summary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	TurnCount int       `json:"turnCount"`
	Sentiment *float64  `json:"sentiment,omitempty"`
	Topics    []string  `json:"topics,omitempty"`
}

// Metrics aggregates per-conversation counters for the analytics page.
type Metrics struct {
	ConversationID string     `json:"conversationId"`
	TotalTurns     int        `json:"totalTurns"`
	UserTurns      int        `json:"userTurns"`
	AssistantTurns int        `json:"assistantTurns"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	Sentiment      *float64   `json:"sentiment,omitempty"`
	Topics         []string   `json:"topics,omitempty"`
}
