package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avachat/backend/internal/completion"
	"github.com/avachat/backend/internal/domain"
	"github.com/avachat/backend/internal/services"
)

// Manager keeps one Orchestrator per authenticated user. Orchestrators are
// created lazily on first use with the user's endpoint configuration read at
// that moment; Reset rebuilds one so settings changes take effect.
type Manager struct {
	Messages *services.MessageService
	Chats    *services.ChatService
	Settings *services.SettingsService
	Log      zerolog.Logger

	// CompletionTimeout bounds each completion call; zero means the client
	// default.
	CompletionTimeout time.Duration

	// Autoload, when set, loads the user's most recent chat into a freshly
	// created session instead of starting empty.
	Autoload bool

	mu       sync.Mutex
	sessions map[string]*Orchestrator
}

// Get returns the user's orchestrator, creating it on first use.
func (m *Manager) Get(ctx context.Context, userID string) (*Orchestrator, error) {
	m.mu.Lock()
	if o, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return o, nil
	}
	m.mu.Unlock()

	o, err := m.build(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Lost the race: keep the one that won.
	if existing, ok := m.sessions[userID]; ok {
		return existing, nil
	}
	if m.sessions == nil {
		m.sessions = make(map[string]*Orchestrator)
	}
	m.sessions[userID] = o
	return o, nil
}

// Reset discards the user's orchestrator and builds a fresh one, re-reading
// the endpoint configuration from settings. Used when a new chat is started
// so credential or URL changes apply immediately.
func (m *Manager) Reset(ctx context.Context, userID string) (*Orchestrator, error) {
	o, err := m.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	o.StartNewChat()

	m.mu.Lock()
	if m.sessions == nil {
		m.sessions = make(map[string]*Orchestrator)
	}
	m.sessions[userID] = o
	m.mu.Unlock()
	return o, nil
}

// Evict drops the user's session, if any. Called on logout.
func (m *Manager) Evict(userID string) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

func (m *Manager) build(ctx context.Context, userID string) (*Orchestrator, error) {
	url, credential, err := m.Settings.EndpointConfig(ctx, userID)
	if err != nil {
		return nil, err
	}

	store := &userStore{userID: userID, messages: m.Messages, chats: m.Chats}
	client := &completion.Client{URL: url, Credential: credential, Timeout: m.CompletionTimeout}
	o := New(store, client, EndpointConfig{URL: url, Credential: credential},
		m.Log.With().Str("user_id", userID).Logger())

	if m.Autoload {
		if chats, lerr := m.Chats.List(ctx, userID); lerr == nil && len(chats) > 0 {
			// ListChats orders by last activity; index 0 is the most recent.
			if _, lerr := o.LoadChat(ctx, chats[0].ID); lerr != nil {
				m.Log.Warn().Err(lerr).Str("user_id", userID).Msg("session autoload")
			}
		}
	}
	return o, nil
}

// userStore binds the persistence services to one user so the orchestrator
// never handles user ids itself.
type userStore struct {
	userID   string
	messages *services.MessageService
	chats    *services.ChatService
}

func (s *userStore) CreateOrAppend(ctx context.Context, chatID string, role domain.Role, content string, ts time.Time) (string, error) {
	_, chatOut, err := s.messages.CreateOrAppend(ctx, s.userID, chatID, role, content, ts)
	return chatOut, err
}

func (s *userStore) Transcript(ctx context.Context, chatID string) ([]domain.Message, error) {
	return s.messages.Transcript(ctx, s.userID, chatID)
}

func (s *userStore) UpdateTitle(ctx context.Context, chatID, title string) error {
	_, err := s.chats.UpdateTitle(ctx, s.userID, chatID, title)
	return err
}
