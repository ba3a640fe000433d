package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"go-realtime-bus/internal/infrastructure/logger"
)

// countingFetcher returns {"key":..., "n":...} where n counts fetches of key.
type countingFetcher struct {
	mu     sync.Mutex
	counts map[Key]int
	fail   atomic.Bool
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{counts: make(map[Key]int)}
}

func (f *countingFetcher) Fetch(ctx context.Context, key Key) (json.RawMessage, error) {
	if f.fail.Load() {
		return nil, fmt.Errorf("%w: offline", ErrFetch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return json.RawMessage(fmt.Sprintf(`{"key":%q,"n":%d}`, key, f.counts[key])), nil
}

func (f *countingFetcher) count(key Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key]
}

func TestNewKey(t *testing.T) {
	assert.Equal(t, NewKey("/api/group-messages", 42, "replies"), Key("/api/group-messages/42/replies"))
	assert.Equal(t, NewKey("/api/messages/"), Key("/api/messages"))
}

func TestKey_HasPrefix(t *testing.T) {
	cases := []struct {
		key    Key
		prefix Key
		want   bool
	}{
		{"/api/messages", "/api/messages", true},
		{"/api/messages/7", "/api/messages", true},
		{"/api/messages/7", "/api/messages/", true},
		{"/api/messages-archive", "/api/messages", false},
		{"/api/group-messages/42/replies", "/api/group-messages/42/replies", true},
		{"/api/group-messages/43/replies", "/api/group-messages/42/replies", false},
		{"/api/group-messages/420/replies", "/api/group-messages/42", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.key.HasPrefix(tc.prefix), tc.want)
	}
}

func TestCache_GetCachesUntilInvalidated(t *testing.T) {
	f := newCountingFetcher()
	c := New(f, DefaultOptions(), &mockLogger{})
	ctx := context.Background()

	first, err := c.Get(ctx, "/api/messages")
	assert.Equal(t, err, nil)
	again, err := c.Get(ctx, "/api/messages")
	assert.Equal(t, err, nil)
	assert.Equal(t, string(again), string(first))
	assert.Equal(t, f.count("/api/messages"), 1)

	assert.Equal(t, c.Invalidate("/api/messages"), 1)
	entry, ok := c.Peek("/api/messages")
	assert.Equal(t, ok, true)
	assert.Equal(t, entry.Stale, true)

	fresh, err := c.Get(ctx, "/api/messages")
	assert.Equal(t, err, nil)
	assert.Equal(t, string(fresh), `{"key":"/api/messages","n":2}`)
}

func TestCache_InvalidateOnlyMatchingKeys(t *testing.T) {
	f := newCountingFetcher()
	c := New(f, DefaultOptions(), &mockLogger{})
	ctx := context.Background()

	for _, k := range []Key{
		"/api/group-messages",
		"/api/group-messages/42/replies",
		"/api/group-messages/43/replies",
		"/api/messages",
	} {
		_, err := c.Get(ctx, k)
		assert.Equal(t, err, nil)
	}

	assert.Equal(t, c.Invalidate(NewKey("/api/group-messages", 42, "replies")), 1)

	stale := func(k Key) bool {
		e, _ := c.Peek(k)
		return e.Stale
	}
	assert.Equal(t, stale("/api/group-messages/42/replies"), true)
	assert.Equal(t, stale("/api/group-messages/43/replies"), false)
	assert.Equal(t, stale("/api/group-messages"), false)

	assert.Equal(t, c.Invalidate("/api/group-messages"), 3)
	assert.Equal(t, stale("/api/messages"), false)
	assert.Equal(t, c.Invalidate("/api/unknown"), 0)
}

func TestCache_RefetchOnInvalidate(t *testing.T) {
	f := newCountingFetcher()
	opts := DefaultOptions()
	opts.RefetchOnInvalidate = true
	c := New(f, opts, &mockLogger{})

	_, err := c.Get(context.Background(), "/api/group-messages")
	assert.Equal(t, err, nil)

	c.Invalidate("/api/group-messages")

	deadline := time.Now().Add(2 * time.Second)
	for {
		e, _ := c.Peek("/api/group-messages")
		if !e.Stale {
			assert.Equal(t, string(e.Body), `{"key":"/api/group-messages","n":2}`)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Entry was not re-fetched")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCache_FailedRefetchStaysStale(t *testing.T) {
	f := newCountingFetcher()
	c := New(f, DefaultOptions(), &mockLogger{})
	ctx := context.Background()

	_, err := c.Get(ctx, "/api/messages")
	assert.Equal(t, err, nil)
	c.Invalidate("/api/messages")

	f.fail.Store(true)
	_, err = c.Get(ctx, "/api/messages")
	assert.Equal(t, errors.Is(err, ErrFetch), true)

	e, ok := c.Peek("/api/messages")
	assert.Equal(t, ok, true)
	assert.Equal(t, e.Stale, true)
}

func TestCache_ConcurrentGetsShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, key Key) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`[]`), nil
	})
	c := New(fetcher, DefaultOptions(), &mockLogger{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "/api/group-messages")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, calls.Load(), int32(1))
}

func TestCache_InvalidationDuringFetchIsNotLost(t *testing.T) {
	var version atomic.Int32
	version.Store(1)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fetcher := FetcherFunc(func(ctx context.Context, key Key) (json.RawMessage, error) {
		n := calls.Add(1)
		body := json.RawMessage(fmt.Sprintf(`{"version":%d}`, version.Load()))
		if n == 1 {
			close(started)
			<-release
		}
		return body, nil
	})
	c := New(fetcher, DefaultOptions(), &mockLogger{})

	first := make(chan json.RawMessage, 1)
	go func() {
		body, _ := c.Get(context.Background(), "/api/messages")
		first <- body
	}()

	<-started
	version.Store(2)
	assert.Equal(t, c.Invalidate("/api/messages"), 0)
	close(release)

	assert.Equal(t, string(<-first), `{"version":1}`)

	body, err := c.Get(context.Background(), "/api/messages")
	assert.Equal(t, err, nil)
	assert.Equal(t, string(body), `{"version":2}`)
	assert.Equal(t, calls.Load(), int32(2))

	e, ok := c.Peek("/api/messages")
	assert.Equal(t, ok, true)
	assert.Equal(t, e.Stale, false)
}

func TestCache_GetAfterInvalidateStartsNewFetch(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fetcher := FetcherFunc(func(ctx context.Context, key Key) (json.RawMessage, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
			<-release
		}
		return json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)), nil
	})
	c := New(fetcher, DefaultOptions(), &mockLogger{})
	defer close(release)

	go c.Get(context.Background(), "/api/group-messages")
	<-started

	c.Invalidate("/api/group-messages")

	body, err := c.Get(context.Background(), "/api/group-messages")
	assert.Equal(t, err, nil)
	assert.Equal(t, string(body), `{"n":2}`)
}

func TestCache_EntriesExpire(t *testing.T) {
	f := newCountingFetcher()
	opts := DefaultOptions()
	opts.TTL = 20 * time.Millisecond
	c := New(f, opts, &mockLogger{})
	ctx := context.Background()

	_, err := c.Get(ctx, "/api/messages")
	assert.Equal(t, err, nil)
	time.Sleep(40 * time.Millisecond)

	_, ok := c.Peek("/api/messages")
	assert.Equal(t, ok, false)

	_, err = c.Get(ctx, "/api/messages")
	assert.Equal(t, err, nil)
	assert.Equal(t, f.count("/api/messages"), 2)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/group-messages/42/replies":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":1,"message":"yes"}]`))
		case "/api/broken":
			w.Write([]byte(`{not json`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/", "tok", time.Second)
	ctx := context.Background()

	body, err := f.Fetch(ctx, NewKey("/api/group-messages", 42, "replies"))
	assert.Equal(t, err, nil)
	assert.Equal(t, string(body), `[{"id":1,"message":"yes"}]`)

	_, err = f.Fetch(ctx, "/api/missing")
	assert.Equal(t, errors.Is(err, ErrFetch), true)

	_, err = f.Fetch(ctx, "/api/broken")
	assert.Equal(t, errors.Is(err, ErrFetch), true)

	_, err = NewHTTPFetcher(srv.URL, "", time.Second).Fetch(ctx, "/api/group-messages/42/replies")
	assert.Equal(t, errors.Is(err, ErrFetch), true)
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
