package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"go-realtime-bus/internal/application/facade"
	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
	"go-realtime-bus/internal/infrastructure/store"
	"go-realtime-bus/internal/port/outbound"
)

type fixture struct {
	router  *gin.Engine
	manager *auth.Manager
	pub     *mockPublisher
}

func newFixture(required bool) *fixture {
	gin.SetMode(gin.TestMode)

	f := &fixture{
		manager: auth.NewManager("test-secret", "test", time.Hour),
		pub:     &mockPublisher{},
	}
	log := &mockLogger{}
	messages := NewMessageHandler(facade.NewMessagingApplicationService(store.NewMemory(), f.pub, log), log)

	f.router = gin.New()
	api := f.router.Group("/api", SessionMiddleware(f.manager, required))
	api.GET("/messages", messages.ListMessages)
	api.POST("/messages", messages.SendMessage)
	api.GET("/group-messages", messages.ListGroupMessages)
	api.POST("/group-messages", messages.PostGroupMessage)
	api.GET("/group-messages/:id/replies", messages.ListReplies)
	api.POST("/group-messages/:id/replies", messages.Reply)
	f.router.POST("/api/sessions", NewSessionHandler(f.manager, log).Create)
	return f
}

func (f *fixture) token(t *testing.T, s auth.Session) string {
	t.Helper()
	token, err := f.manager.Issue(s)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestSendMessage(t *testing.T) {
	f := newFixture(false)
	token := f.token(t, auth.Session{UserID: 1, DisplayName: "Alice"})

	w := f.do(http.MethodPost, "/api/messages", token, `{"receiverId":2,"message":"hello"}`)
	assert.Equal(t, w.Code, http.StatusCreated)

	var got outbound.DirectMessage
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &got), nil)
	assert.Equal(t, got.SenderID, int64(1))
	assert.Equal(t, got.MessageType, "direct")

	envs := f.pub.envelopes()
	assert.Equal(t, len(envs), 1)
	assert.Equal(t, envs[0].Type, envelope.TypeNewMessage)

	w = f.do(http.MethodGet, "/api/messages", f.token(t, auth.Session{UserID: 2}), "")
	assert.Equal(t, w.Code, http.StatusOK)
	var list []outbound.DirectMessage
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &list), nil)
	assert.Equal(t, len(list), 1)

	w = f.do(http.MethodGet, "/api/messages", f.token(t, auth.Session{UserID: 3}), "")
	assert.Equal(t, w.Body.String(), "[]")

	w = f.do(http.MethodGet, "/api/messages", "", "")
	assert.Equal(t, w.Code, http.StatusUnauthorized)
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(false)
	token := f.token(t, auth.Session{UserID: 1})

	w := f.do(http.MethodPost, "/api/messages", "", `{"receiverId":2,"message":"hello"}`)
	assert.Equal(t, w.Code, http.StatusUnauthorized)

	w = f.do(http.MethodPost, "/api/messages", token, `{"message":"no receiver"}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = f.do(http.MethodPost, "/api/messages", token, `{"receiverId":2,"message":"   "}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = f.do(http.MethodPost, "/api/messages", "not-a-token", `{"receiverId":2,"message":"hi"}`)
	assert.Equal(t, w.Code, http.StatusUnauthorized)
}

func TestRequiredSession(t *testing.T) {
	f := newFixture(true)

	w := f.do(http.MethodGet, "/api/group-messages", "", "")
	assert.Equal(t, w.Code, http.StatusUnauthorized)

	w = f.do(http.MethodGet, "/api/group-messages", f.token(t, auth.Session{UserID: 1}), "")
	assert.Equal(t, w.Code, http.StatusOK)
}

func TestGroupMessagesAndReplies(t *testing.T) {
	f := newFixture(false)
	token := f.token(t, auth.Session{UserID: 1, DisplayName: "Alice"})

	w := f.do(http.MethodPost, "/api/group-messages", token, `{"title":"Standup","message":"9am"}`)
	assert.Equal(t, w.Code, http.StatusCreated)
	var group outbound.GroupMessage
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &group), nil)

	path := "/api/group-messages/" + strconv.FormatInt(group.ID, 10) + "/replies"
	w = f.do(http.MethodPost, path, token, `{"message":"on my way"}`)
	assert.Equal(t, w.Code, http.StatusCreated)

	w = f.do(http.MethodGet, path, "", "")
	assert.Equal(t, w.Code, http.StatusOK)
	var replies []outbound.Reply
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &replies), nil)
	assert.Equal(t, len(replies), 1)

	w = f.do(http.MethodGet, "/api/group-messages/999/replies", "", "")
	assert.Equal(t, w.Code, http.StatusNotFound)

	w = f.do(http.MethodGet, "/api/group-messages/abc/replies", "", "")
	assert.Equal(t, w.Code, http.StatusBadRequest)

	envs := f.pub.envelopes()
	assert.Equal(t, len(envs), 2)
	id, ok := envs[1].GroupMessageID()
	assert.Equal(t, ok, true)
	assert.Equal(t, id, group.ID)
}

func TestCreateSession(t *testing.T) {
	f := newFixture(false)

	w := f.do(http.MethodPost, "/api/sessions", "", `{"userId":7,"displayName":"Grace"}`)
	assert.Equal(t, w.Code, http.StatusCreated)

	var body struct {
		Token string `json:"token"`
	}
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &body), nil)

	session, err := f.manager.Parse(body.Token)
	assert.Equal(t, err, nil)
	assert.Equal(t, session.UserID, int64(7))
	assert.Equal(t, session.DisplayName, "Grace")

	w = f.do(http.MethodPost, "/api/sessions", "", `{"displayName":"nobody"}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestHubHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := hub.New(&mockLogger{}, hub.DefaultConfig())
	ctx := context.Background()
	assert.Equal(t, h.Start(ctx), nil)
	defer h.Stop(ctx)

	manager := auth.NewManager("test-secret", "test", time.Hour)
	hubHandler := NewHubHandler(h, &mockLogger{})

	router := gin.New()
	router.GET("/hub/status", hubHandler.Status)
	admin := router.Group("/api/v1/hub", SessionMiddleware(manager, true), RequireRole(manager, auth.RoleAdmin))
	admin.POST("/broadcast", hubHandler.Broadcast)
	admin.POST("/send/:connectionId", hubHandler.SendToConnection)

	do := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/hub/status", "", "")
	assert.Equal(t, w.Code, http.StatusOK)

	member, _ := manager.Issue(auth.Session{UserID: 2, Role: auth.RoleCompanyMember})
	admin1, _ := manager.Issue(auth.Session{UserID: 1, Role: auth.RoleAdmin})

	w = do(http.MethodPost, "/api/v1/hub/broadcast", member, `{"type":"PING"}`)
	assert.Equal(t, w.Code, http.StatusForbidden)

	w = do(http.MethodPost, "/api/v1/hub/broadcast", admin1, `{"type":"PING"}`)
	assert.Equal(t, w.Code, http.StatusOK)

	w = do(http.MethodPost, "/api/v1/hub/broadcast", admin1, `{"data":{}}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = do(http.MethodPost, "/api/v1/hub/send/missing", admin1, `{"type":"PING"}`)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

type mockPublisher struct {
	mu   sync.Mutex
	sent []envelope.Envelope
}

func (p *mockPublisher) Broadcast(ctx context.Context, env envelope.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, env)
	return nil
}

func (p *mockPublisher) envelopes() []envelope.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]envelope.Envelope(nil), p.sent...)
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string)                              {}
func (m *mockLogger) Debugf(format string, args ...any)             {}
func (m *mockLogger) Info(msg string)                               {}
func (m *mockLogger) Infof(format string, args ...any)              {}
func (m *mockLogger) Warn(msg string)                               {}
func (m *mockLogger) Warnf(format string, args ...any)              {}
func (m *mockLogger) Error(msg string)                              {}
func (m *mockLogger) Errorf(format string, args ...any)             {}
func (m *mockLogger) Fatal(msg string)                              {}
func (m *mockLogger) Fatalf(format string, args ...any)             {}
func (m *mockLogger) WithField(key string, value any) logger.Logger { return m }
func (m *mockLogger) WithFields(fields logger.Fields) logger.Logger { return m }
func (m *mockLogger) WithContext(ctx context.Context) logger.Logger { return m }
func (m *mockLogger) SetLevel(level logger.Level)                   {}
func (m *mockLogger) SetOutput(output io.Writer)                    {}
