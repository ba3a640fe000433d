package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go-realtime-bus/internal/infrastructure/logger"
)

// testServer is a WebSocket endpoint whose accepted connections are handed to
// the test, which drives them directly.
type testServer struct {
	*httptest.Server

	conns   chan *websocket.Conn
	headers chan http.Header

	release     chan struct{}
	releaseOnce sync.Once
}

// newTestServer starts a server. With hold set, upgrades wait until the test
// closes srv.release.
func newTestServer(t *testing.T, hold bool) *testServer {
	t.Helper()

	srv := &testServer{
		conns:   make(chan *websocket.Conn, 8),
		headers: make(chan http.Header, 8),
		release: make(chan struct{}),
	}
	if !hold {
		srv.open()
	}

	upgrader := websocket.Upgrader{}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case srv.headers <- r.Header.Clone():
		default:
		}
		<-srv.release

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		srv.conns <- conn
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(srv.open)
	return srv
}

// open lets held upgrades proceed.
func (s *testServer) open() {
	s.releaseOnce.Do(func() { close(s.release) })
}

func (s *testServer) endpoint() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func (s *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("No connection accepted")
		return nil
	}
}

func writeText(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Server write failed: %v", err)
	}
}

// readText reads the next data frame from the client, or fails the test.
func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Server read failed: %v", err)
	}
	return string(data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitClosed(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Channel still %s", ch.State())
	}
}

func waitOpened(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Opened():
	case <-time.After(2 * time.Second):
		t.Fatalf("Channel still %s", ch.State())
	}
}

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps every entry so tests can assert on what was logged.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) has(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && strings.Contains(e.msg, substr) {
			return true
		}
	}
	return false
}

func (l *recordingLogger) Debug(msg string)                  { l.record("debug", msg) }
func (l *recordingLogger) Debugf(format string, args ...any) { l.record("debug", fmt.Sprintf(format, args...)) }
func (l *recordingLogger) Info(msg string)                   { l.record("info", msg) }
func (l *recordingLogger) Infof(format string, args ...any)  { l.record("info", fmt.Sprintf(format, args...)) }
func (l *recordingLogger) Warn(msg string)                   { l.record("warn", msg) }
func (l *recordingLogger) Warnf(format string, args ...any)  { l.record("warn", fmt.Sprintf(format, args...)) }
func (l *recordingLogger) Error(msg string)                  { l.record("error", msg) }
func (l *recordingLogger) Errorf(format string, args ...any) { l.record("error", fmt.Sprintf(format, args...)) }
func (l *recordingLogger) Fatal(msg string)                  { l.record("fatal", msg) }
func (l *recordingLogger) Fatalf(format string, args ...any) { l.record("fatal", fmt.Sprintf(format, args...)) }

func (l *recordingLogger) WithField(key string, value any) logger.Logger { return l }
func (l *recordingLogger) WithFields(fields logger.Fields) logger.Logger { return l }
func (l *recordingLogger) WithContext(ctx context.Context) logger.Logger { return l }
func (l *recordingLogger) SetLevel(level logger.Level)                   {}
func (l *recordingLogger) SetOutput(output io.Writer)                    {}
