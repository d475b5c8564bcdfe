// Package session owns the active conversation: it orchestrates context
// windowing, prompt construction, inference calls, turn persistence and
// on-demand analytics for a single chat session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mindwell-ai/mindwell/backend/internal/analysis/emotion"
	"github.com/mindwell-ai/mindwell/backend/internal/analysis/lexical"
	"github.com/mindwell-ai/mindwell/backend/internal/model/chat"
	"github.com/mindwell-ai/mindwell/backend/internal/service/inference"
	"github.com/mindwell-ai/mindwell/backend/internal/store"
)

var (
	// ErrBusy rejects a submit while a reply is still being generated.
	ErrBusy = errors.New("a reply is already in progress")
	// ErrNoTurns rejects analysis of an empty conversation.
	ErrNoTurns = errors.New("no messages to analyze yet")
	// ErrEmptyMessage rejects blank user input.
	ErrEmptyMessage = errors.New("message must not be empty")
)

// defaultPreamble is the fixed instruction block prepended to every prompt.
const defaultPreamble = "You are MindWell, a supportive mental wellness companion. " +
	"Keep your responses concise and focused, ideally under 3-4 sentences " +
	"unless more detail is specifically requested."

const (
	defaultContextTurns = 5
	defaultMaxTopics    = 5
)

// Options tune the engine; zero values fall back to defaults.
type Options struct {
	// ContextTurns is the number of most recent turns included in a prompt.
	ContextTurns int
	// MaxTopics caps the keyword list produced by analysis.
	MaxTopics int
	// Preamble overrides the fixed instruction block.
	Preamble string
}

// Analytics is the bundle returned by RequestAnalysis.
type Analytics struct {
	ConversationID   string        `json:"conversationId"`
	Sentiment        float64       `json:"sentiment"`
	Topics           []string      `json:"topics"`
	EmotionalState   emotion.Label `json:"emotionalState"`
	MessageLengths   []int         `json:"messageLengths"`
	AvgMessageLength float64       `json:"avgMessageLength"`
	TotalTurns       int           `json:"totalTurns"`
	UserTurns        int           `json:"userTurns"`
}

// Engine drives one conversation session. It assumes a single writer: a
// concurrent submit while a reply is pending is rejected with ErrBusy.
type Engine struct {
	store store.Store
	llm   *inference.Client

	sessionID    string
	contextTurns int
	maxTopics    int
	preamble     string

	mu             sync.Mutex
	conversationID string
	turns          []chat.Turn
	busy           bool
	ready          bool
	inflight       *inference.CancelToken

	subMu       sync.Mutex
	subscribers map[chan chat.Turn]struct{}
}

// NewEngine creates a session with a fresh conversation. The backend is not
// probed here; readiness is established lazily on the first submit.
func NewEngine(ctx context.Context, st store.Store, llm *inference.Client, opts Options) (*Engine, error) {
	if opts.ContextTurns <= 0 {
		opts.ContextTurns = defaultContextTurns
	}
	if opts.MaxTopics <= 0 {
		opts.MaxTopics = defaultMaxTopics
	}
	if opts.Preamble == "" {
		opts.Preamble = defaultPreamble
	}

	e := &Engine{
		store:        st,
		llm:          llm,
		sessionID:    uuid.NewString(),
		contextTurns: opts.ContextTurns,
		maxTopics:    opts.MaxTopics,
		preamble:     opts.Preamble,
		subscribers:  make(map[chan chat.Turn]struct{}),
	}

	conversationID, err := st.CreateConversation(ctx, e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	e.conversationID = conversationID
	return e, nil
}

// SessionID returns the client-scoped session identifier.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// ConversationID returns the active conversation identifier.
func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// Busy reports whether a reply is currently being generated.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// Ready probes the backend unless a previous probe already succeeded.
func (e *Engine) Ready(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureReadyLocked(ctx)
}

func (e *Engine) ensureReadyLocked(ctx context.Context) error {
	if e.ready {
		return nil
	}
	if err := e.llm.Healthy(ctx); err != nil {
		return err
	}
	e.ready = true
	return nil
}

// SubmitUserMessage runs one turn cycle: persist the user turn, build a
// bounded-context prompt, stream the reply, persist the assistant turn.
// onPartial observes the growing reply after each fragment. A terminal
// inference error becomes the assistant turn's content; the cycle still
// completes and the session stays usable.
func (e *Engine) SubmitUserMessage(ctx context.Context, text string, onPartial func(partial string)) (chat.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Turn{}, ErrEmptyMessage
	}

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return chat.Turn{}, ErrBusy
	}
	if err := e.ensureReadyLocked(ctx); err != nil {
		e.mu.Unlock()
		return chat.Turn{}, err
	}

	if _, err := e.appendTurnLocked(ctx, chat.RoleUser, text); err != nil {
		e.mu.Unlock()
		return chat.Turn{}, err
	}

	prompt := e.buildPromptLocked(text)
	token := &inference.CancelToken{}
	e.inflight = token
	e.busy = true
	e.mu.Unlock()

	var partial strings.Builder
	reply, genErr := e.llm.Generate(ctx, prompt, true, token, func(fragment string) {
		partial.WriteString(fragment)
		if onPartial != nil {
			onPartial(partial.String())
		}
	})

	content := reply
	if genErr != nil {
		log.Printf("[session] generation failed for conversation=%s: %v", e.ConversationID(), genErr)
		if errors.Is(genErr, inference.ErrBackendUnavailable) {
			// block further submissions until a fresh probe succeeds
			e.mu.Lock()
			e.ready = false
			e.mu.Unlock()
		}
		content = "Error: " + genErr.Error()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false
	e.inflight = nil

	return e.appendTurnLocked(ctx, chat.RoleAssistant, content)
}

// CancelReply requests that the in-flight reply stop at the next fragment
// boundary. A no-op when nothing is streaming.
func (e *Engine) CancelReply() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight != nil {
		e.inflight.Cancel()
	}
}

// RequestAnalysis computes sentiment and topics over the user-authored turns
// (assistant phrasing never skews the reading of the user's state),
// classifies the emotion bucket, persists the rollup and returns the bundle
// together with message-length statistics over all turns.
func (e *Engine) RequestAnalysis(ctx context.Context) (Analytics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.turns) == 0 {
		return Analytics{}, ErrNoTurns
	}

	userParts := make([]string, 0, len(e.turns))
	lengths := make([]int, 0, len(e.turns))
	totalWords := 0
	for _, turn := range e.turns {
		words := len(strings.Fields(turn.Content))
		lengths = append(lengths, words)
		totalWords += words
		if turn.Role == chat.RoleUser {
			userParts = append(userParts, turn.Content)
		}
	}

	userText := strings.Join(userParts, " ")
	sentiment := lexical.Sentiment(userText)
	topics := lexical.TopKeywords(userText, e.maxTopics)
	state := emotion.Classify(sentiment)

	if err := e.store.UpdateAnalytics(ctx, e.conversationID, sentiment, topics, string(state)); err != nil {
		if errors.Is(err, store.ErrUnknownConversation) {
			return Analytics{}, e.recoverLocked(ctx, err)
		}
		return Analytics{}, fmt.Errorf("persist analytics: %w", err)
	}

	return Analytics{
		ConversationID:   e.conversationID,
		Sentiment:        sentiment,
		Topics:           topics,
		EmotionalState:   state,
		MessageLengths:   lengths,
		AvgMessageLength: float64(totalWords) / float64(len(lengths)),
		TotalTurns:       len(e.turns),
		UserTurns:        len(userParts),
	}, nil
}

// History reads the active conversation's turns from durable storage.
func (e *Engine) History(ctx context.Context) ([]chat.Turn, error) {
	return e.store.ReadTurns(ctx, e.ConversationID())
}

// Reset allocates a fresh conversation and clears the in-memory buffer.
// Prior turns remain durably stored under the old conversation id.
func (e *Engine) Reset(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return "", ErrBusy
	}
	return e.resetLocked(ctx)
}

func (e *Engine) resetLocked(ctx context.Context) (string, error) {
	conversationID, err := e.store.CreateConversation(ctx, e.sessionID)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	e.conversationID = conversationID
	e.turns = nil
	return conversationID, nil
}

// Subscribe returns a channel of turn-append events for live rendering and a
// release function. Slow consumers miss events rather than blocking the
// engine.
func (e *Engine) Subscribe() (<-chan chat.Turn, func()) {
	ch := make(chan chat.Turn, 16)

	e.subMu.Lock()
	e.subscribers[ch] = struct{}{}
	e.subMu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subscribers, ch)
			e.subMu.Unlock()
			close(ch)
		})
	}
	return ch, release
}

func (e *Engine) publish(turn chat.Turn) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subscribers {
		select {
		case ch <- turn:
		default:
		}
	}
}

// appendTurnLocked persists a turn and mirrors it in the in-memory buffer.
// An unknown-conversation failure is a state-consistency fault: the session
// is force-reset.
func (e *Engine) appendTurnLocked(ctx context.Context, role chat.Role, content string) (chat.Turn, error) {
	turn, err := e.store.AppendTurn(ctx, e.conversationID, role, content)
	if err != nil {
		if errors.Is(err, store.ErrUnknownConversation) {
			return chat.Turn{}, e.recoverLocked(ctx, err)
		}
		return chat.Turn{}, fmt.Errorf("persist turn: %w", err)
	}
	e.turns = append(e.turns, turn)
	e.publish(turn)
	return turn, nil
}

// recoverLocked force-resets the session after a state-consistency fault.
func (e *Engine) recoverLocked(ctx context.Context, cause error) error {
	log.Printf("[session] state fault, forcing reset: %v", cause)
	if _, resetErr := e.resetLocked(ctx); resetErr != nil {
		return fmt.Errorf("reset after state fault: %v (cause: %w)", resetErr, cause)
	}
	return fmt.Errorf("session was reset: %w", cause)
}

// buildPromptLocked assembles the preamble, a Context block of the most
// recent turns (excluding the just-appended user turn) and the new message.
func (e *Engine) buildPromptLocked(message string) string {
	history := e.turns
	if len(history) > 0 {
		// the new user turn is already buffered; the message is appended
		// separately below
		history = history[:len(history)-1]
	}
	if len(history) > e.contextTurns {
		history = history[len(history)-e.contextTurns:]
	}

	lines := make([]string, 0, len(history))
	for _, turn := range history {
		label := "User"
		if turn.Role == chat.RoleAssistant {
			label = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, turn.Content))
	}

	return fmt.Sprintf("%s\n\nContext:\n%s\n\nUser: %s\nAssistant:",
		e.preamble, strings.Join(lines, "\n"), message)
}
