package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanling-notes/fanling/internal/protocol"
)

type fakeExec struct {
	mu       sync.Mutex
	commands []string
	dirty    bool
}

func (f *fakeExec) Execute(_ context.Context, body string) *protocol.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, body)
	switch {
	case strings.Contains(body, "Shutdown"):
		return &protocol.Response{Shutdown: true}
	case strings.Contains(body, "Create"):
		f.dirty = true
		return protocol.NewResponse().AddTag(protocol.TagContent, "created")
	default:
		return protocol.NewResponse().AddTag(protocol.TagContent, "listed")
	}
}

func (f *fakeExec) Always() (*protocol.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := "synced"
	if f.dirty {
		v = "unpushed changes"
	}
	return protocol.NewResponse().AddTag(protocol.TagAlways, v), nil
}

func (f *fakeExec) NeedsPush() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

func startServer(t *testing.T, exec Executor) *Server {
	t.Helper()
	s := New(exec, Config{Addr: "127.0.0.1:0"})
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func dial(t *testing.T, ctx context.Context, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readResponse(t *testing.T, ctx context.Context, conn *websocket.Conn) *protocol.Response {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(data)
	require.NoError(t, err)
	return resp
}

func TestCommandReplyAndAlwaysBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exec := &fakeExec{}
	s := startServer(t, exec)
	a := dial(t, ctx, s)
	b := dial(t, ctx, s)
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte(`{"t":"Simple","a":{"Create":[{},{"name":"x"}]}}`)))

	reply := readResponse(t, ctx, a)
	v, _ := reply.Tag(protocol.TagContent)
	assert.Equal(t, "created", v)

	for _, c := range []*websocket.Conn{a, b} {
		always := readResponse(t, ctx, c)
		v, ok := always.Tag(protocol.TagAlways)
		assert.True(t, ok)
		assert.Equal(t, "unpushed changes", v)
	}
}

func TestHealth(t *testing.T) {
	exec := &fakeExec{dirty: true}
	s := startServer(t, exec)

	res, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	defer res.Body.Close()

	var h health
	require.NoError(t, json.NewDecoder(res.Body).Decode(&h))
	assert.Equal(t, health{Status: "ok", NeedsPush: true, Clients: 0}, h)
}

func TestShutdownClosesDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := startServer(t, &fakeExec{})
	conn := dial(t, ctx, s)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"a":"Shutdown"}`)))

	reply := readResponse(t, ctx, conn)
	assert.True(t, reply.Shutdown)

	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatal("server did not signal shutdown")
	}
}

func TestOriginRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := startServer(t, &fakeExec{})
	_, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example.com"}},
	})
	require.Error(t, err)
}
