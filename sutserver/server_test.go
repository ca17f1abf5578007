package sutserver

import (
	"testing"
	"time"
)

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	s := NewServer(opts)
	if err := s.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dialClient(t *testing.T, s *Server) *Client {
	t.Helper()
	c, err := Dial(s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func expectEvent(t *testing.T, c *Client, want string) {
	t.Helper()
	select {
	case got, ok := <-c.Events():
		if !ok {
			t.Fatalf("event stream closed waiting for %q", want)
		}
		if got != want {
			t.Errorf("event = %q; want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event within deadline; want %q", want)
	}
}

func TestServer_ConfiguredReplies(t *testing.T) {
	s := startServer(t, Options{
		Replies: map[string][]string{
			"cmd_open": {`ev_opened {"ok":true}`},
			"cmd_poll": {"ev_status 1", "ev_status 2"},
		},
	})
	c := dialClient(t, s)

	if err := c.Send(`cmd_open {"door":7}`); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectEvent(t, c, `ev_opened {"ok":true}`)

	if err := c.Send("cmd_poll"); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectEvent(t, c, "ev_status 1")
	expectEvent(t, c, "ev_status 2")

	if got := s.Requests(); got != 2 {
		t.Errorf("requests = %d; want 2", got)
	}
}

func TestServer_EchoForUnmatchedCommands(t *testing.T) {
	s := startServer(t, Options{Echo: true})
	c := dialClient(t, s)
	if err := c.Send("cmd_mystery 1 2"); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectEvent(t, c, "ev_echo cmd_mystery 1 2")
}

func TestServer_SwallowsUnmatchedWithoutEcho(t *testing.T) {
	s := startServer(t, Options{
		Replies: map[string][]string{"cmd_known": {"ev_known"}},
	})
	c := dialClient(t, s)
	if err := c.Send("cmd_unknown"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Send("cmd_known"); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Only the known command answers; the unknown one is silent.
	expectEvent(t, c, "ev_known")
}

func TestServer_FailRate(t *testing.T) {
	s := startServer(t, Options{
		FailRate: 1.0,
		Seed:     1,
		Replies:  map[string][]string{"cmd_open": {"ev_opened"}},
	})
	c := dialClient(t, s)
	if err := c.Send("cmd_open now"); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectEvent(t, c, "ev_error cmd_open")
}

func TestServer_Delay(t *testing.T) {
	s := startServer(t, Options{Echo: true, Delay: 50 * time.Millisecond})
	c := dialClient(t, s)
	start := time.Now()
	if err := c.Send("cmd_slow"); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectEvent(t, c, "ev_echo cmd_slow")
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("reply after %v; want >= 50ms", elapsed)
	}
}

func TestServer_StopIsIdempotent(t *testing.T) {
	s := startServer(t, Options{Echo: true})
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	s := startServer(t, Options{Echo: true})
	c := dialClient(t, s)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
