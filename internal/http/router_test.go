package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avachat/backend/internal/config"
	"github.com/avachat/backend/internal/repo"
)

func testConfig() config.Config {
	return config.Config{
		GinMode:           "test",
		APIBasePath:       "/api/v1",
		JWTSecret:         "test-secret",
		JWTTTL:            time.Hour,
		EncryptionKey:     strings.Repeat("ab", 32),
		CompletionTimeout: 5 * time.Second,
		SessionAutoload:   false,
		RateRPS:           1000,
		RateBurst:         1000,
		IdempotencyTTL:    time.Hour,
		OTEL:              config.OTELConfig{ServiceName: "test"},
	}
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	r := gin.New()
	RegisterRoutes(r, db, testConfig())
	return r
}

// do issues a JSON request against the test engine.
func do(t *testing.T, r http.Handler, method, path, token string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// registerAndLogin creates an account and returns its bearer token.
func registerAndLogin(t *testing.T, r http.Handler, email string) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/auth/register", "", nil, map[string]string{
		"name": "Ada", "email": email, "password": "hunter2secret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/auth/login", "", nil, map[string]string{
		"email": email, "password": "hunter2secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token struct {
			Value string `json:"token"`
		} `json:"token"`
	}
	decode(t, w, &resp)
	if resp.Token.Value == "" {
		t.Fatalf("no token in %s", w.Body.String())
	}
	return resp.Token.Value
}

func TestHealth(t *testing.T) {
	r := newTestServer(t)
	w := do(t, r, http.MethodGet, "/health", "", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	r := newTestServer(t)
	w := do(t, r, http.MethodGet, "/nope", "", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_found") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestAuthFlow(t *testing.T) {
	r := newTestServer(t)

	w := do(t, r, http.MethodPost, "/auth/register", "", nil, map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": "hunter2secret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "hunter2secret") {
		t.Fatalf("password leaked: %s", w.Body.String())
	}

	// Duplicate email.
	w = do(t, r, http.MethodPost, "/auth/register", "", nil, map[string]string{
		"name": "Eve", "email": "ada@example.com", "password": "different-pass",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", w.Code)
	}

	// Wrong password.
	w = do(t, r, http.MethodPost, "/auth/login", "", nil, map[string]string{
		"email": "ada@example.com", "password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", w.Code)
	}

	// Short password rejected by validation.
	w = do(t, r, http.MethodPost, "/auth/register", "", nil, map[string]string{
		"name": "Bob", "email": "bob@example.com", "password": "short",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("short password: %d", w.Code)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	r := newTestServer(t)
	for _, path := range []string{"/api/v1/chats", "/api/v1/settings", "/api/v1/session"} {
		w := do(t, r, http.MethodGet, path, "", nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, w.Code)
		}
	}
}

func TestMessageAndChatFlow(t *testing.T) {
	r := newTestServer(t)
	token := registerAndLogin(t, r, "ada@example.com")

	// Post without a chat id: a chat is created for us.
	w := do(t, r, http.MethodPost, "/api/v1/messages", token, nil, map[string]any{
		"message": map[string]any{"role": "user", "content": "hello assistant"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("post message: %d %s", w.Code, w.Body.String())
	}
	var posted struct {
		ChatID  string `json:"chatId"`
		Message struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"message"`
	}
	decode(t, w, &posted)
	if posted.ChatID == "" || posted.Message.Content != "hello assistant" {
		t.Fatalf("posted = %+v", posted)
	}

	// Append to the same chat.
	w = do(t, r, http.MethodPost, "/api/v1/messages", token, nil, map[string]any{
		"chatId":  posted.ChatID,
		"message": map[string]any{"role": "assistant", "content": "hello human"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("append: %d %s", w.Code, w.Body.String())
	}

	// List with ETag round trip.
	w = do(t, r, http.MethodGet, "/api/v1/chats", token, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("no ETag on list response")
	}
	w = do(t, r, http.MethodGet, "/api/v1/chats", token, map[string]string{"If-None-Match": etag}, nil)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional list: %d, want 304", w.Code)
	}

	// Full transcript, ordered.
	w = do(t, r, http.MethodGet, "/api/v1/chats/"+posted.ChatID, token, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get chat: %d %s", w.Code, w.Body.String())
	}
	var chat struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	decode(t, w, &chat)
	if len(chat.Messages) != 2 || chat.Messages[0].Role != "user" || chat.Messages[1].Role != "assistant" {
		t.Fatalf("transcript = %+v", chat.Messages)
	}

	// Rename.
	w = do(t, r, http.MethodPatch, "/api/v1/chats/"+posted.ChatID, token, nil, map[string]string{"title": "Renamed"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Renamed") {
		t.Fatalf("rename: %d %s", w.Code, w.Body.String())
	}

	// Another user cannot see, rename, or delete this chat.
	intruder := registerAndLogin(t, r, "eve@example.com")
	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/chats/" + posted.ChatID},
		{http.MethodDelete, "/api/v1/chats/" + posted.ChatID},
	} {
		w = do(t, r, probe.method, probe.path, intruder, nil, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s as intruder: %d, want 404", probe.method, probe.path, w.Code)
		}
	}

	// Malformed chat id.
	w = do(t, r, http.MethodGet, "/api/v1/chats/not-a-uuid", token, nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}

	// Delete, then the chat is gone.
	w = do(t, r, http.MethodDelete, "/api/v1/chats/"+posted.ChatID, token, nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "true") {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodGet, "/api/v1/chats/"+posted.ChatID, token, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", w.Code)
	}
}

func TestIdempotentReplay(t *testing.T) {
	r := newTestServer(t)
	token := registerAndLogin(t, r, "ada@example.com")

	body := map[string]any{
		"message": map[string]any{"role": "user", "content": "exactly once"},
	}
	hdr := map[string]string{"Idempotency-Key": "retry-abc-1"}

	first := do(t, r, http.MethodPost, "/api/v1/messages", token, hdr, body)
	if first.Code != http.StatusCreated {
		t.Fatalf("first: %d %s", first.Code, first.Body.String())
	}
	var a struct {
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	decode(t, first, &a)

	second := do(t, r, http.MethodPost, "/api/v1/messages", token, hdr, body)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay header missing")
	}
	var b struct {
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	decode(t, second, &b)
	if a.Message.ID == "" || a.Message.ID != b.Message.ID {
		t.Fatalf("replay returned a different message: %q vs %q", a.Message.ID, b.Message.ID)
	}

	// Invalid key shape is rejected before the handler.
	w := do(t, r, http.MethodPost, "/api/v1/messages", token, map[string]string{"Idempotency-Key": "bad key!"}, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key: %d", w.Code)
	}
}

func TestSettingsNeverEchoCredential(t *testing.T) {
	r := newTestServer(t)
	token := registerAndLogin(t, r, "ada@example.com")

	w := do(t, r, http.MethodPost, "/api/v1/settings", token, nil, map[string]any{
		"selectedAvatar": "robot",
		"flowiseApiUrl":  "https://flows.example.com",
		"flowiseApiKey":  "sk-super-secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put settings: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "sk-super-secret") || strings.Contains(w.Body.String(), "flowiseApiKey") {
		t.Fatalf("credential echoed: %s", w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/settings", token, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get settings: %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "sk-super-secret") || strings.Contains(body, "flowiseApiKey") {
		t.Fatalf("credential echoed: %s", body)
	}
	if !strings.Contains(body, "robot") || !strings.Contains(body, "https://flows.example.com") {
		t.Fatalf("settings lost: %s", body)
	}
}

func TestSessionFlow(t *testing.T) {
	r := newTestServer(t)
	token := registerAndLogin(t, r, "ada@example.com")

	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "Greetings!"})
	}))
	defer stub.Close()

	if w := do(t, r, http.MethodPost, "/api/v1/settings", token, nil, map[string]any{
		"flowiseApiUrl": stub.URL,
	}); w.Code != http.StatusOK {
		t.Fatalf("configure endpoint: %d %s", w.Code, w.Body.String())
	}

	// One full exchange.
	w := do(t, r, http.MethodPost, "/api/v1/session/messages", token, nil, map[string]string{"message": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	var snap struct {
		ChatID   string `json:"chatId"`
		Pending  bool   `json:"pending"`
		Messages []struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			Persisted bool   `json:"persisted"`
		} `json:"messages"`
	}
	decode(t, w, &snap)
	if snap.ChatID == "" || snap.Pending {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Messages) != 2 || snap.Messages[1].Content != "Greetings!" || !snap.Messages[1].Persisted {
		t.Fatalf("messages = %+v", snap.Messages)
	}
	chatID := snap.ChatID

	// Snapshot endpoint agrees.
	w = do(t, r, http.MethodGet, "/api/v1/session", token, nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Greetings!") {
		t.Fatalf("get session: %d %s", w.Code, w.Body.String())
	}

	// Title save on the active chat.
	w = do(t, r, http.MethodPut, "/api/v1/session/title", token, nil, map[string]string{"title": "My session"})
	if w.Code != http.StatusOK {
		t.Fatalf("save title: %d %s", w.Code, w.Body.String())
	}

	// Export.
	w = do(t, r, http.MethodGet, "/api/v1/session/export", token, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d", w.Code)
	}
	var doc struct {
		Messages   []any  `json:"messages"`
		ExportedAt string `json:"exportedAt"`
	}
	decode(t, w, &doc)
	if len(doc.Messages) != 2 || doc.ExportedAt == "" {
		t.Fatalf("export doc = %+v", doc)
	}

	// New session clears the transcript.
	w = do(t, r, http.MethodPost, "/api/v1/session/new", token, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("new session: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &snap)
	if snap.ChatID != "" || len(snap.Messages) != 0 {
		t.Fatalf("session not cleared: %+v", snap)
	}

	// Title save without an active chat fails.
	w = do(t, r, http.MethodPut, "/api/v1/session/title", token, nil, map[string]string{"title": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("save without chat: %d", w.Code)
	}

	// Switch back to the persisted chat.
	w = do(t, r, http.MethodPost, "/api/v1/session/chats/"+chatID, token, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("load chat: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &snap)
	if snap.ChatID != chatID || len(snap.Messages) != 2 {
		t.Fatalf("loaded session = %+v", snap)
	}
}

func TestSessionUnconfiguredEndpoint(t *testing.T) {
	r := newTestServer(t)
	token := registerAndLogin(t, r, "noflow@example.com")

	w := do(t, r, http.MethodPost, "/api/v1/session/messages", token, nil, map[string]string{"message": "hi"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "configuration_missing") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestSessionUpstreamFailure(t *testing.T) {
	r := newTestServer(t)
	token := registerAndLogin(t, r, "ada@example.com")

	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer stub.Close()

	if w := do(t, r, http.MethodPost, "/api/v1/settings", token, nil, map[string]any{
		"flowiseApiUrl": stub.URL,
	}); w.Code != http.StatusOK {
		t.Fatalf("configure endpoint: %d", w.Code)
	}

	w := do(t, r, http.MethodPost, "/api/v1/session/messages", token, nil, map[string]string{"message": "hi"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "upstream_failed") {
		t.Fatalf("body = %s", w.Body.String())
	}
}
