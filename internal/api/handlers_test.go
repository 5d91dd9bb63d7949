package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aetheron.ai/aetheron-chat/internal/auth"
	"aetheron.ai/aetheron-chat/internal/core"
	"aetheron.ai/aetheron-chat/internal/store"
)

const testSecret = "handler-test-secret"

type echoProvider struct{}

func (echoProvider) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	last := req.Messages[len(req.Messages)-1]
	return "You said: " + last.Content, nil
}

func (echoProvider) Model() string { return "echo" }

type stubImages struct{}

func (stubImages) GenerateImage(ctx context.Context, prompt string) (*core.GeneratedImage, error) {
	return &core.GeneratedImage{B64: "QUJD", Model: "stub", Width: 512, Height: 512, ConfigRaw: `{"steps":2}`}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := store.NewSQLiteStore("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	svc := core.NewChatService(core.Deps{
		Store:         db,
		Sessions:      core.NewSessionManager(core.PolicyCreateNewChat),
		Relay:         core.NewRelay(echoProvider{}, stubImages{}, core.RelayOptions{Temperature: 0.7, MaxTokens: 2048, Timeout: time.Second}, logger),
		Tokens:        auth.NewTokenService(testSecret, time.Hour),
		HistoryWindow: 10,
		Logger:        logger,
	})

	srv := httptest.NewServer(NewRouter(NewAPIHandler(svc, logger), logger))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func signup(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	status, _ := do(t, srv, http.MethodPost, "/api/register", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusCreated, status)

	status, raw := do(t, srv, http.MethodPost, "/api/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, status)
	return decode[LoginResponse](t, raw).Token
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	status, raw := do(t, srv, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", decode[map[string]string](t, raw)["status"])
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)

	status, raw := do(t, srv, http.MethodPost, "/api/register", "", map[string]string{"username": "alice", "password": "pw1"})
	require.Equal(t, http.StatusCreated, status)
	reg := decode[RegisterResponse](t, raw)
	assert.Equal(t, int64(1), reg.UserID)

	status, raw = do(t, srv, http.MethodPost, "/api/register", "", map[string]string{"username": "alice", "password": "pw2"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Username already exists", decode[errorResponse](t, raw).Error)

	status, _ = do(t, srv, http.MethodPost, "/api/register", "", map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, raw = do(t, srv, http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotContains(t, string(raw), "token")

	status, raw = do(t, srv, http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": "pw1"})
	require.Equal(t, http.StatusOK, status)
	login := decode[LoginResponse](t, raw)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, "alice", login.User.Username)

	status, raw = do(t, srv, http.MethodGet, "/api/verify-token", login.Token, nil)
	require.Equal(t, http.StatusOK, status)
	verify := decode[VerifyTokenResponse](t, raw)
	assert.True(t, verify.Valid)
	assert.Equal(t, reg.UserID, verify.User.ID)
}

func TestAuthFailures(t *testing.T) {
	srv := newTestServer(t)
	token := signup(t, srv, "alice", "pw1")

	status, raw := do(t, srv, http.MethodGet, "/api/chat-history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Authentication token required", decode[errorResponse](t, raw).Error)

	status, raw = do(t, srv, http.MethodGet, "/api/chat-history", token+"x", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Invalid or expired token", decode[errorResponse](t, raw).Error)

	forged, err := auth.NewTokenService("another-secret", time.Hour).Issue(1, "alice")
	require.NoError(t, err)
	status, _ = do(t, srv, http.MethodPost, "/api/chat", forged, map[string]string{"prompt": "Hi"})
	assert.Equal(t, http.StatusForbidden, status)

	ghost, err := auth.NewTokenService(testSecret, time.Hour).Issue(999, "ghost")
	require.NoError(t, err)
	status, _ = do(t, srv, http.MethodGet, "/api/verify-token", ghost, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestChatScenario(t *testing.T) {
	srv := newTestServer(t)
	token := signup(t, srv, "alice", "pw1")

	status, raw := do(t, srv, http.MethodPost, "/api/chat", token, map[string]any{"prompt": "Hello"})
	require.Equal(t, http.StatusOK, status, string(raw))
	first := decode[ChatResponse](t, raw)
	assert.Equal(t, int64(1), first.ChatID)
	assert.Equal(t, "You said: Hello", first.Response)

	status, raw = do(t, srv, http.MethodPost, "/api/chat", token, map[string]any{"prompt": "Again", "chat_id": first.ChatID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first.ChatID, decode[ChatResponse](t, raw).ChatID)

	status, raw = do(t, srv, http.MethodGet, "/api/chats/1/messages", token, nil)
	require.Equal(t, http.StatusOK, status)
	msgs := decode[[]store.Message](t, raw)
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[0].Sender)
	assert.Equal(t, "Hello", *msgs[0].Message)
	assert.Nil(t, msgs[0].Response)
	assert.Equal(t, "ai", msgs[1].Sender)
	assert.Equal(t, "You said: Hello", *msgs[1].Response)
	assert.Equal(t, "Again", *msgs[2].Message)

	status, raw = do(t, srv, http.MethodGet, "/api/chat-history", token, nil)
	require.Equal(t, http.StatusOK, status)
	history := decode[ChatHistoryResponse](t, raw)
	require.Len(t, history.Chats, 1)
	assert.NotNil(t, history.Chats[0].LastMessageTime)

	status, raw = do(t, srv, http.MethodGet, "/api/latest-chat", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"chat_id":1}`, string(raw))

	status, _ = do(t, srv, http.MethodPost, "/api/chat", token, map[string]any{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodGet, "/api/chats/abc/messages", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestForeignChatIsForbidden(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "alice", "pw1")
	bob := signup(t, srv, "bob", "pw2")

	status, raw := do(t, srv, http.MethodPost, "/api/chat", alice, map[string]any{"prompt": "secret"})
	require.Equal(t, http.StatusOK, status)
	chatID := decode[ChatResponse](t, raw).ChatID

	status, raw = do(t, srv, http.MethodGet, fmt.Sprintf("/api/chats/%d/messages", chatID), bob, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.NotContains(t, string(raw), "secret")

	// Writing to someone else's chat starts a new one for the caller.
	status, raw = do(t, srv, http.MethodPost, "/api/chat", bob, map[string]any{"prompt": "hi", "chat_id": chatID})
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, chatID, decode[ChatResponse](t, raw).ChatID)

	status, raw = do(t, srv, http.MethodGet, fmt.Sprintf("/api/chats/%d/messages", chatID), alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]store.Message](t, raw), 2)
}

func TestClearHistoryScenario(t *testing.T) {
	srv := newTestServer(t)
	token := signup(t, srv, "alice", "pw1")

	status, raw := do(t, srv, http.MethodGet, "/api/chat-history", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"chats":[]}`, string(raw))

	var chatIDs []int64
	for _, turns := range []int{2, 2, 1} {
		var chatID int64
		for i := 0; i < turns; i++ {
			body := map[string]any{"prompt": "q"}
			if chatID != 0 {
				body["chat_id"] = chatID
			}
			status, raw := do(t, srv, http.MethodPost, "/api/chat", token, body)
			require.Equal(t, http.StatusOK, status)
			chatID = decode[ChatResponse](t, raw).ChatID
		}
		chatIDs = append(chatIDs, chatID)
	}

	status, raw = do(t, srv, http.MethodDelete, "/api/chat-history", token, nil)
	require.Equal(t, http.StatusOK, status)
	cleared := decode[ClearHistoryResponse](t, raw)
	assert.Equal(t, int64(3), cleared.Chats)
	assert.Equal(t, int64(10), cleared.Messages)

	status, raw = do(t, srv, http.MethodGet, "/api/chat-history", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"chats":[]}`, string(raw))

	for _, id := range chatIDs {
		status, _ := do(t, srv, http.MethodGet, fmt.Sprintf("/api/chats/%d/messages", id), token, nil)
		assert.Equal(t, http.StatusForbidden, status)
	}

	status, raw = do(t, srv, http.MethodGet, "/api/latest-chat", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"chat_id":null}`, string(raw))
}

func TestImageRoutes(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "alice", "pw1")
	bob := signup(t, srv, "bob", "pw2")

	status, raw := do(t, srv, http.MethodPost, "/api/image", alice, map[string]any{"prompt": "a red fox"})
	require.Equal(t, http.StatusOK, status, string(raw))
	img := decode[ImageResponse](t, raw)
	assert.Equal(t, "data:image/png;base64,QUJD", img.ImageURL)

	status, raw = do(t, srv, http.MethodGet, "/api/images", alice, nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[[]map[string]any](t, raw)
	require.Len(t, list, 1)
	assert.Equal(t, "a red fox", list[0]["prompt"])

	status, raw = do(t, srv, http.MethodGet, fmt.Sprintf("/api/images/%d", img.ImageID), alice, nil)
	require.Equal(t, http.StatusOK, status)
	detail := decode[map[string]any](t, raw)
	assert.Equal(t, img.ImageURL, detail["imageUrl"])
	assert.Equal(t, map[string]any{"steps": float64(2)}, detail["generation_config"])

	status, _ = do(t, srv, http.MethodGet, fmt.Sprintf("/api/images/%d", img.ImageID), bob, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, srv, http.MethodPost, "/api/image", alice, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	// Older clients send chatId.
	status, raw = do(t, srv, http.MethodPost, "/api/image", alice, map[string]any{"prompt": "a blue fox", "chatId": img.ChatID})
	require.Equal(t, http.StatusOK, status, string(raw))
	again := decode[ImageResponse](t, raw)
	assert.Equal(t, img.ChatID, again.ChatID)

	status, raw = do(t, srv, http.MethodGet, "/api/chat-history", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[ChatHistoryResponse](t, raw).Chats, 1)
}

func TestPreferencesRoutes(t *testing.T) {
	srv := newTestServer(t)
	alice := signup(t, srv, "alice", "pw1")
	bob := signup(t, srv, "bob", "pw2")

	status, raw := do(t, srv, http.MethodGet, "/api/user-preferences", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"preferences":"","expertise_domains":""}`, string(raw))

	status, _ = do(t, srv, http.MethodPut, "/api/user-preferences", alice, map[string]string{"preferences": "terse"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodPut, "/api/user-preferences", alice,
		map[string]string{"preferences": "terse", "expertise_domains": "go"})
	require.Equal(t, http.StatusOK, status)

	status, raw = do(t, srv, http.MethodGet, "/api/user-preferences", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"preferences":"terse","expertise_domains":"go"}`, string(raw))

	status, raw = do(t, srv, http.MethodGet, "/api/user-preferences", bob, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"preferences":"","expertise_domains":""}`, string(raw))
}
