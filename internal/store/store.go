// Package store provides the durable, append-only conversation log.
package store

import (
	"context"
	"errors"

	"github.com/mindwell-ai/mindwell/backend/internal/model/chat"
)

// ErrUnknownConversation is returned when an operation references a
// conversation id that does not exist.
var ErrUnknownConversation = errors.New("unknown conversation")

// ErrUnsupportedFormat is returned for an export format other than json or
// txt.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportFormat selects the transcript serialization.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportText ExportFormat = "txt"
)

// Store persists conversations and their turns. Each conversation has a
// single writer; operations on different conversations may run concurrently.
type Store interface {
	// CreateConversation allocates a new conversation for the session and
	// returns its id.
	CreateConversation(ctx context.Context, sessionID string) (string, error)

	// AppendTurn appends an immutable turn. Fails with
	// ErrUnknownConversation if the conversation does not exist.
	AppendTurn(ctx context.Context, conversationID string, role chat.Role, content string) (chat.Turn, error)

	// ReadTurns returns turns in creation order. A conversation with no
	// turns yields an empty slice, not an error.
	ReadTurns(ctx context.Context, conversationID string) ([]chat.Turn, error)

	// UpdateAnalytics overwrites the conversation's analytics rollup.
	UpdateAnalytics(ctx context.Context, conversationID string, sentiment float64, topics []string, emotionalState string) error

	// ListRecentConversations returns up to limit summaries, newest first.
	ListRecentConversations(ctx context.Context, limit int) ([]chat.Summary, error)

	// ConversationMetrics aggregates turn counters and the stored rollup.
	ConversationMetrics(ctx context.Context, conversationID string) (chat.Metrics, error)

	// ExportConversation serializes the transcript as JSON or plain text.
	ExportConversation(ctx context.Context, conversationID string, format ExportFormat) (string, error)
}
