package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avachat/backend/internal/domain"
)

type storedMsg struct {
	chatID  string
	role    domain.Role
	content string
	ts      time.Time
}

// fakeStore is an in-memory MessageStore with injectable failures.
type fakeStore struct {
	newChatID  string
	writes     []storedMsg
	transcript []domain.Message
	titles     map[string]string

	failWrite      error
	failWriteAfter int // fail once this many writes succeeded
	failTranscript error

	// optional blocking hooks for Transcript
	transcriptStarted     chan struct{}
	transcriptStartedOnce sync.Once
	transcriptRelease     chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{newChatID: "chat-new", titles: map[string]string{}}
}

func (f *fakeStore) CreateOrAppend(ctx context.Context, chatID string, role domain.Role, content string, ts time.Time) (string, error) {
	if f.failWrite != nil && len(f.writes) >= f.failWriteAfter {
		return "", f.failWrite
	}
	if chatID == "" {
		chatID = f.newChatID
	}
	f.writes = append(f.writes, storedMsg{chatID: chatID, role: role, content: content, ts: ts})
	return chatID, nil
}

func (f *fakeStore) Transcript(ctx context.Context, chatID string) ([]domain.Message, error) {
	if f.transcriptStarted != nil {
		f.transcriptStartedOnce.Do(func() { close(f.transcriptStarted) })
	}
	if f.transcriptRelease != nil {
		<-f.transcriptRelease
	}
	if f.failTranscript != nil {
		return nil, f.failTranscript
	}
	return f.transcript, nil
}

func (f *fakeStore) UpdateTitle(ctx context.Context, chatID, title string) error {
	f.titles[chatID] = title
	return nil
}

// fakeCompleter returns a canned reply, an error, or blocks until released.
type fakeCompleter struct {
	reply       string
	err         error
	started     chan struct{}
	startedOnce sync.Once
	release     chan struct{}
}

func (f *fakeCompleter) Generate(ctx context.Context, prompt string) (string, error) {
	if f.started != nil {
		f.startedOnce.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newOrchestrator(store MessageStore, c Completer) *Orchestrator {
	return New(store, c, EndpointConfig{URL: "https://flows.example.com"}, zerolog.Nop())
}

func TestSendMessage_HappyPath(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, &fakeCompleter{reply: "Hello!"})

	snap, err := o.SendMessage(context.Background(), "  hi there  ")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if snap.ChatID != "chat-new" {
		t.Fatalf("ChatID = %q, want adopted chat-new", snap.ChatID)
	}
	if snap.Pending || snap.LastError != "" {
		t.Fatalf("unexpected state: %+v", snap)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(snap.Entries))
	}
	if snap.Entries[0].Role != domain.RoleUser || snap.Entries[0].Content != "hi there" || !snap.Entries[0].Persisted {
		t.Fatalf("user entry = %+v", snap.Entries[0])
	}
	if snap.Entries[1].Role != domain.RoleAssistant || snap.Entries[1].Content != "Hello!" || !snap.Entries[1].Persisted {
		t.Fatalf("assistant entry = %+v", snap.Entries[1])
	}

	// Both turns were mirrored to storage, trimmed, in order.
	if len(store.writes) != 2 {
		t.Fatalf("writes = %d", len(store.writes))
	}
	if store.writes[0].content != "hi there" || store.writes[1].content != "Hello!" {
		t.Fatalf("stored = %+v", store.writes)
	}
	// The second write goes to the adopted chat.
	if store.writes[1].chatID != "chat-new" {
		t.Fatalf("assistant chat = %q", store.writes[1].chatID)
	}
}

func TestSendMessage_EmptyHasNoSideEffects(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, &fakeCompleter{reply: "unused"})

	_, err := o.SendMessage(context.Background(), "   \n\t ")
	if err != ErrEmptyMessage {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("store touched: %+v", store.writes)
	}
	if snap := o.State(); len(snap.Entries) != 0 || snap.LastError != "" {
		t.Fatalf("state changed: %+v", snap)
	}
}

func TestSendMessage_EndpointNotConfigured(t *testing.T) {
	store := newFakeStore()
	o := New(store, &fakeCompleter{reply: "unused"}, EndpointConfig{}, zerolog.Nop())

	snap, err := o.SendMessage(context.Background(), "hi")
	if err != ErrEndpointNotConfigured {
		t.Fatalf("err = %v, want ErrEndpointNotConfigured", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("store touched: %+v", store.writes)
	}
	if len(snap.Entries) != 0 {
		t.Fatalf("transcript touched: %+v", snap.Entries)
	}
	if snap.LastError == "" {
		t.Fatalf("last error not recorded")
	}
}

func TestSendMessage_BusyRejectsOverlap(t *testing.T) {
	store := newFakeStore()
	fc := &fakeCompleter{reply: "slow", started: make(chan struct{}), release: make(chan struct{})}
	o := newOrchestrator(store, fc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.SendMessage(context.Background(), "first"); err != nil {
			t.Errorf("first send: %v", err)
		}
	}()

	<-fc.started
	if _, err := o.SendMessage(context.Background(), "second"); err != ErrBusy {
		t.Fatalf("overlap err = %v, want ErrBusy", err)
	}
	if _, err := o.LoadChat(context.Background(), "other"); err != ErrBusy {
		t.Fatalf("load during send err = %v, want ErrBusy", err)
	}

	close(fc.release)
	<-done

	// Once the exchange finishes the session accepts sends again.
	if _, err := o.SendMessage(context.Background(), "third"); err != nil {
		t.Fatalf("post-send: %v", err)
	}
}

func TestSendMessage_UserPersistFailureKeepsEntry(t *testing.T) {
	store := newFakeStore()
	store.failWrite = errors.New("db down")
	o := newOrchestrator(store, &fakeCompleter{reply: "unused"})

	snap, err := o.SendMessage(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("err = %v", err)
	}
	// Optimistic entry survives, unconfirmed; no completion happened.
	if len(snap.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(snap.Entries))
	}
	if snap.Entries[0].Persisted {
		t.Fatalf("failed write marked persisted")
	}
	if snap.LastError == "" {
		t.Fatalf("last error not recorded")
	}
	if snap.Pending {
		t.Fatalf("still pending after failure")
	}
}

func TestSendMessage_AssistantPersistFailureKeepsEntry(t *testing.T) {
	store := newFakeStore()
	store.failWrite = errors.New("db down")
	store.failWriteAfter = 1 // user turn lands, assistant turn does not
	o := newOrchestrator(store, &fakeCompleter{reply: "generated"})

	snap, err := o.SendMessage(context.Background(), "hi")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(snap.Entries))
	}
	if !snap.Entries[0].Persisted {
		t.Fatalf("user entry should be persisted")
	}
	if snap.Entries[1].Persisted || snap.Entries[1].Content != "generated" {
		t.Fatalf("assistant entry = %+v", snap.Entries[1])
	}
}

func TestSendMessage_CompletionFailure(t *testing.T) {
	store := newFakeStore()
	upstream := errors.New("endpoint exploded")
	o := newOrchestrator(store, &fakeCompleter{err: upstream})

	snap, err := o.SendMessage(context.Background(), "hi")
	if !errors.Is(err, upstream) {
		t.Fatalf("err = %v", err)
	}
	// The user turn is already persisted; no assistant entry appears.
	if len(snap.Entries) != 1 || !snap.Entries[0].Persisted {
		t.Fatalf("entries = %+v", snap.Entries)
	}
	if len(store.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(store.writes))
	}
}

func TestSendMessage_KeepsExistingChat(t *testing.T) {
	store := newFakeStore()
	store.transcript = []domain.Message{{Role: domain.RoleUser, Content: "old", CreatedAt: time.Now()}}
	o := newOrchestrator(store, &fakeCompleter{reply: "ok"})

	if _, err := o.LoadChat(context.Background(), "chat-77"); err != nil {
		t.Fatalf("LoadChat: %v", err)
	}
	snap, err := o.SendMessage(context.Background(), "more")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if snap.ChatID != "chat-77" {
		t.Fatalf("ChatID = %q, want chat-77", snap.ChatID)
	}
	if store.writes[0].chatID != "chat-77" {
		t.Fatalf("write chat = %q", store.writes[0].chatID)
	}
}

func TestStartNewChat(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, &fakeCompleter{reply: "ok"})

	if _, err := o.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	o.StartNewChat()

	snap := o.State()
	if snap.ChatID != "" || len(snap.Entries) != 0 || snap.LastError != "" {
		t.Fatalf("state after reset: %+v", snap)
	}
	// Idempotent.
	o.StartNewChat()
	if snap := o.State(); len(snap.Entries) != 0 {
		t.Fatalf("second reset: %+v", snap)
	}
}

func TestLoadChat_ReplacesWholesale(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, &fakeCompleter{reply: "ok"})

	// Seed some session state, then switch.
	if _, err := o.SendMessage(context.Background(), "before"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	ts := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	store.transcript = []domain.Message{
		{Role: domain.RoleUser, Content: "q", CreatedAt: ts},
		{Role: domain.RoleAssistant, Content: "a", CreatedAt: ts.Add(time.Second)},
	}

	snap, err := o.LoadChat(context.Background(), "chat-9")
	if err != nil {
		t.Fatalf("LoadChat: %v", err)
	}
	if snap.ChatID != "chat-9" {
		t.Fatalf("ChatID = %q", snap.ChatID)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("entries = %d, want 2 (old state must not survive)", len(snap.Entries))
	}
	for i, e := range snap.Entries {
		if !e.Persisted {
			t.Fatalf("entry %d not marked persisted: %+v", i, e)
		}
	}
	if snap.Entries[0].Content != "q" || snap.Entries[1].Content != "a" {
		t.Fatalf("entries = %+v", snap.Entries)
	}
}

func TestLoadChat_BlocksOverlappingSend(t *testing.T) {
	store := newFakeStore()
	store.transcript = []domain.Message{{Role: domain.RoleUser, Content: "restored", CreatedAt: time.Now()}}
	store.transcriptStarted = make(chan struct{})
	store.transcriptRelease = make(chan struct{})
	o := newOrchestrator(store, &fakeCompleter{reply: "ok"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.LoadChat(context.Background(), "chat-42"); err != nil {
			t.Errorf("LoadChat: %v", err)
		}
	}()

	<-store.transcriptStarted
	// The switch is in flight: a send must be rejected, not interleaved.
	if _, err := o.SendMessage(context.Background(), "racing"); err != ErrBusy {
		t.Fatalf("send during load err = %v, want ErrBusy", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("store touched during load: %+v", store.writes)
	}

	close(store.transcriptRelease)
	<-done

	// Once the switch completes the loaded transcript is intact and sends
	// land on the loaded chat.
	snap, err := o.SendMessage(context.Background(), "after")
	if err != nil {
		t.Fatalf("post-load send: %v", err)
	}
	if snap.ChatID != "chat-42" {
		t.Fatalf("ChatID = %q, want chat-42", snap.ChatID)
	}
	if len(snap.Entries) != 3 || snap.Entries[0].Content != "restored" {
		t.Fatalf("entries = %+v", snap.Entries)
	}
}

func TestStartNewChat_DuringSendLeavesSessionClean(t *testing.T) {
	store := newFakeStore()
	fc := &fakeCompleter{reply: "late", started: make(chan struct{}), release: make(chan struct{})}
	o := newOrchestrator(store, fc)

	done := make(chan struct{})
	var sendErr error
	go func() {
		defer close(done)
		_, sendErr = o.SendMessage(context.Background(), "hi")
	}()

	<-fc.started
	o.StartNewChat()
	close(fc.release)
	<-done

	if sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	// Both turns still reached storage, but the reset session stays empty.
	if len(store.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(store.writes))
	}
	snap := o.State()
	if len(snap.Entries) != 0 || snap.ChatID != "" {
		t.Fatalf("reset state polluted: %+v", snap)
	}
}

func TestLoadChat_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failTranscript = errors.New("not found")
	o := newOrchestrator(store, &fakeCompleter{})

	if _, err := o.LoadChat(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSaveChat(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, &fakeCompleter{reply: "ok"})

	if err := o.SaveChat(context.Background(), "anything"); err != ErrNoActiveChat {
		t.Fatalf("no chat: err = %v, want ErrNoActiveChat", err)
	}

	if _, err := o.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := o.SaveChat(context.Background(), "  My Chat  "); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	if store.titles["chat-new"] != "My Chat" {
		t.Fatalf("title = %q", store.titles["chat-new"])
	}
}

func TestSaveChat_BlankTitleDefaultsToTimestamp(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, &fakeCompleter{reply: "ok"})
	o.now = func() time.Time { return time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC) }

	if _, err := o.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := o.SaveChat(context.Background(), "   "); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	if got := store.titles["chat-new"]; got != "Chat 2025-06-15 14:30" {
		t.Fatalf("title = %q", got)
	}
}

func TestExportTranscript(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, &fakeCompleter{reply: "ok"})

	// Empty session exports an empty document, not an error.
	doc := o.ExportTranscript()
	if doc.Messages == nil || len(doc.Messages) != 0 {
		t.Fatalf("empty export = %+v", doc.Messages)
	}
	if doc.ExportedAt.IsZero() {
		t.Fatalf("missing export timestamp")
	}

	if _, err := o.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	doc = o.ExportTranscript()
	if len(doc.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(doc.Messages))
	}
	if doc.Messages[0].Role != domain.RoleUser || doc.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("roles = %+v", doc.Messages)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	store := newFakeStore()
	o := newOrchestrator(store, &fakeCompleter{reply: "ok"})

	if _, err := o.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	snap := o.State()
	snap.Entries[0].Content = "mutated"
	if o.State().Entries[0].Content != "hi" {
		t.Fatalf("snapshot shares backing array with orchestrator")
	}
}
