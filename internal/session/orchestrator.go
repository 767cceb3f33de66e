// Package session implements the chat session orchestrator: the component
// that owns the in-memory transcript of the active chat, mirrors every
// appended turn to the message persistence service, calls the external
// completion endpoint, and manages session lifecycle (new chat, switch chat,
// title save, export).
//
// The orchestrator performs one exchange at a time. Callers are expected to
// serialize invocations (the presentation layer disables input while a send
// is in flight); an overlapping SendMessage is rejected with ErrBusy rather
// than queued.
//
// The transcript is a display cache, not a durability guarantee: entries are
// appended optimistically before their storage write and carry a Persisted
// flag so the unconfirmed state is observable. A failed write never removes
// an entry; the user must still see what they sent.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avachat/backend/internal/domain"
)

var (
	// ErrEmptyMessage rejects blank input before any side effect.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy is returned when a send is attempted while another exchange is
	// still in flight.
	ErrBusy = errors.New("a message is already being sent")

	// ErrEndpointNotConfigured fails a send fast when the user has no
	// completion endpoint URL in their settings. Nothing is persisted and
	// the transcript is left untouched.
	ErrEndpointNotConfigured = errors.New("completion endpoint not configured")

	// ErrNoActiveChat is returned by SaveChat when the session has no chat.
	ErrNoActiveChat = errors.New("no active chat")
)

// MessageStore is the narrow persistence contract the orchestrator needs.
// Implementations are bound to the authenticated user; ownership checks
// happen behind this interface.
type MessageStore interface {
	// CreateOrAppend persists one message. An empty chatID creates a new
	// chat and returns its id; otherwise the message is appended to chatID.
	CreateOrAppend(ctx context.Context, chatID string, role domain.Role, content string, ts time.Time) (chatOut string, err error)
	// Transcript returns a chat's messages ordered by timestamp ascending.
	Transcript(ctx context.Context, chatID string) ([]domain.Message, error)
	// UpdateTitle renames a chat.
	UpdateTitle(ctx context.Context, chatID, title string) error
}

// Completer generates a single-turn reply for a prompt.
type Completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EndpointConfig is the completion-endpoint configuration captured when the
// orchestrator is constructed. It is passed in explicitly; the orchestrator
// performs no ambient settings lookups.
type EndpointConfig struct {
	URL        string
	Credential string
}

// Entry is one transcript line. Persisted reports whether the mirroring
// write to the message store succeeded; an optimistic entry whose write
// failed stays in the transcript with Persisted=false.
type Entry struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Persisted bool        `json:"persisted"`
}

// Snapshot is an immutable copy of the orchestrator state handed to callers.
type Snapshot struct {
	ChatID    string  `json:"chatId,omitempty"`
	Pending   bool    `json:"pending"`
	LastError string  `json:"lastError,omitempty"`
	Entries   []Entry `json:"messages"`
}

// ExportDocument is the transportable form of a transcript.
type ExportDocument struct {
	Messages   []ExportMessage `json:"messages"`
	ExportedAt time.Time       `json:"exportedAt"`
}

// ExportMessage is one exported transcript line.
type ExportMessage struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Orchestrator drives one user's active chat session.
//
// State machine: Idle -> Sending -> Idle. While Sending, further sends are
// rejected. All fields behind mu; I/O happens outside the lock.
type Orchestrator struct {
	store    MessageStore
	complete Completer
	endpoint EndpointConfig
	log      zerolog.Logger

	// now is a clock seam for tests.
	now func() time.Time

	mu         sync.Mutex
	entries    []Entry
	activeChat string
	pending    bool
	lastError  string

	// gen counts wholesale transcript replacements (StartNewChat, LoadChat).
	// A send re-checks it before mutating entries by saved index; a reset
	// that lands mid-exchange orphans the in-memory updates instead of
	// touching the new transcript.
	gen uint64
}

// New constructs an orchestrator for one authenticated user's session.
// The endpoint configuration and collaborators are injected; there are no
// global lookups.
func New(store MessageStore, complete Completer, endpoint EndpointConfig, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		complete: complete,
		endpoint: endpoint,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SendMessage performs one exchange: optimistic user append, user-turn
// persistence, completion call, assistant append, assistant-turn
// persistence. It returns the resulting transcript snapshot; on error the
// snapshot reflects whatever state the exchange reached.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) (Snapshot, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		// No side effects at all: no network call, no transcript change.
		return o.State(), ErrEmptyMessage
	}

	o.mu.Lock()
	if o.pending {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrBusy
	}
	if o.endpoint.URL == "" {
		// Fail fast: nothing is persisted, the transcript is untouched.
		o.lastError = ErrEndpointNotConfigured.Error()
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrEndpointNotConfigured
	}

	// Optimistic user turn.
	o.pending = true
	o.lastError = ""
	userTS := o.now()
	o.entries = append(o.entries, Entry{
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: userTS,
		Persisted: false,
	})
	userIdx := len(o.entries) - 1
	gen := o.gen
	chatID := o.activeChat
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.pending = false
		o.mu.Unlock()
	}()

	// Mirror the user turn to storage. Failure aborts the exchange but the
	// optimistic entry stays visible.
	chatOut, err := o.store.CreateOrAppend(ctx, chatID, domain.RoleUser, text, userTS)
	if err != nil {
		o.log.Error().Err(err).Msg("persist user message")
		return o.fail(fmt.Errorf("persist user message: %w", err))
	}

	o.mu.Lock()
	if o.gen == gen && userIdx < len(o.entries) {
		o.entries[userIdx].Persisted = true
	}
	if chatID == "" {
		chatID = chatOut
		if o.gen == gen && o.activeChat == "" {
			// A new chat was created for us; adopt it for the rest of the session.
			o.activeChat = chatOut
		}
	}
	o.mu.Unlock()

	// Single-turn contract: the raw user text goes out, not the transcript.
	reply, err := o.complete.Generate(ctx, text)
	if err != nil {
		o.log.Error().Err(err).Msg("completion endpoint")
		return o.fail(fmt.Errorf("completion endpoint: %w", err))
	}

	o.mu.Lock()
	asstTS := o.now()
	asstIdx := -1
	if o.gen == gen {
		o.entries = append(o.entries, Entry{
			Role:      domain.RoleAssistant,
			Content:   reply,
			Timestamp: asstTS,
			Persisted: false,
		})
		asstIdx = len(o.entries) - 1
	}
	o.mu.Unlock()

	if _, err := o.store.CreateOrAppend(ctx, chatID, domain.RoleAssistant, reply, asstTS); err != nil {
		// Reported, but the assistant entry stays in the transcript.
		o.log.Error().Err(err).Msg("persist assistant message")
		return o.fail(fmt.Errorf("persist assistant message: %w", err))
	}

	o.mu.Lock()
	if asstIdx >= 0 && o.gen == gen {
		o.entries[asstIdx].Persisted = true
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	return snap, nil
}

// StartNewChat clears the transcript, the active chat id, and the last
// error. It is idempotent and performs no I/O. A reset that lands while a
// send is in flight clears the session; the in-flight exchange still
// completes against storage but no longer touches the transcript.
func (o *Orchestrator) StartNewChat() {
	o.mu.Lock()
	o.entries = nil
	o.activeChat = ""
	o.lastError = ""
	o.gen++
	o.mu.Unlock()
}

// LoadChat replaces the transcript wholesale with the persisted messages of
// chatID, ordered by timestamp ascending, and makes it the active chat. Old
// session data never survives a switch. The pending guard is held for the
// duration of the fetch, so a send and a switch exclude each other with
// ErrBusy in both directions.
func (o *Orchestrator) LoadChat(ctx context.Context, chatID string) (Snapshot, error) {
	o.mu.Lock()
	if o.pending {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrBusy
	}
	o.pending = true
	o.mu.Unlock()

	msgs, err := o.store.Transcript(ctx, chatID)
	if err != nil {
		o.mu.Lock()
		o.pending = false
		o.lastError = err.Error()
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
			Persisted: true,
		})
	}

	o.mu.Lock()
	o.pending = false
	o.entries = entries
	o.activeChat = chatID
	o.lastError = ""
	o.gen++
	snap := o.snapshotLocked()
	o.mu.Unlock()
	return snap, nil
}

// SaveChat sends a title update for the active chat. Without an active chat
// it returns ErrNoActiveChat and does nothing. A blank title defaults to one
// derived from the current timestamp. The local transcript is not mutated.
func (o *Orchestrator) SaveChat(ctx context.Context, title string) error {
	o.mu.Lock()
	chatID := o.activeChat
	o.mu.Unlock()
	if chatID == "" {
		return ErrNoActiveChat
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Chat " + o.now().Format("2006-01-02 15:04")
	}
	if err := o.store.UpdateTitle(ctx, chatID, title); err != nil {
		_, _ = o.fail(err)
		return err
	}
	return nil
}

// ExportTranscript serializes the current transcript plus an export
// timestamp. It performs no I/O and is valid for an empty transcript
// (an empty messages array, not an error).
func (o *Orchestrator) ExportTranscript() ExportDocument {
	o.mu.Lock()
	defer o.mu.Unlock()

	msgs := make([]ExportMessage, 0, len(o.entries))
	for _, e := range o.entries {
		msgs = append(msgs, ExportMessage{
			Role:      e.Role,
			Content:   e.Content,
			Timestamp: e.Timestamp,
		})
	}
	return ExportDocument{Messages: msgs, ExportedAt: o.now()}
}

// State returns a snapshot of the current orchestrator state.
func (o *Orchestrator) State() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// fail records err as the session's last error and returns the snapshot
// alongside it.
func (o *Orchestrator) fail(err error) (Snapshot, error) {
	o.mu.Lock()
	o.lastError = err.Error()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	return snap, err
}

// snapshotLocked copies state; callers hold mu.
func (o *Orchestrator) snapshotLocked() Snapshot {
	entries := make([]Entry, len(o.entries))
	copy(entries, o.entries)
	return Snapshot{
		ChatID:    o.activeChat,
		Pending:   o.pending,
		LastError: o.lastError,
		Entries:   entries,
	}
}

