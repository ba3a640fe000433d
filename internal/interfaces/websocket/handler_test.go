package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/config"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
)

func newServer(t *testing.T, required bool, origins []string) (*httptest.Server, *hub.Hub, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(&mockLogger{}, hub.DefaultConfig())
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { h.Stop(context.Background()) })

	cfg := config.Default()
	cfg.Auth.Required = required
	cfg.Server.AllowedOrigins = origins
	sessions := auth.NewManager("secret", "test", time.Hour)

	router := gin.New()
	InitWebSocketRouter(&mockLogger{}, h, sessions, cfg, router.Group(""))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, h, sessions
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func waitForConnections(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d connections, got %d", n, h.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnect_ReceivesBroadcast(t *testing.T) {
	srv, h, sessions := newServer(t, false, nil)
	token, _ := sessions.Issue(auth.Session{UserID: 9})

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	assert.Equal(t, err, nil)
	defer client.Close()

	waitForConnections(t, h, 1)
	conns := h.GetConnectionsByType(hub.TypeWebSocket)
	assert.Equal(t, conns[0].Session().UserID, int64(9))

	err = h.Broadcast(context.Background(), envelope.New(envelope.GroupMessageReply{GroupMessageID: 42}))
	assert.Equal(t, err, nil)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := client.ReadMessage()
	assert.Equal(t, err, nil)

	env, err := envelope.Decode(frame)
	assert.Equal(t, err, nil)
	id, ok := env.GroupMessageID()
	assert.Equal(t, ok, true)
	assert.Equal(t, id, int64(42))

	client.Close()
	waitForConnections(t, h, 0)
}

func TestConnect_RequiresSession(t *testing.T) {
	srv, _, sessions := newServer(t, true, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv)+"?token=bogus", nil)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)

	token, _ := sessions.Issue(auth.Session{UserID: 1})
	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+token, nil)
	assert.Equal(t, err, nil)
	client.Close()
}

func TestConnect_AllowedOrigins(t *testing.T) {
	srv, _, _ := newServer(t, false, []string{"https://crm.example.com"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), http.Header{"Origin": []string{"https://evil.example.com"}})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, resp.StatusCode, http.StatusForbidden)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv), http.Header{"Origin": []string{"https://crm.example.com"}})
	assert.Equal(t, err, nil)
	client.Close()

	client, _, err = websocket.DefaultDialer.Dial(wsURL(srv), nil)
	assert.Equal(t, err, nil)
	client.Close()
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
