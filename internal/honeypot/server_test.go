package honeypot

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SomethingGeneric/aihoneypot/internal/config"
	"github.com/SomethingGeneric/aihoneypot/internal/provider"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Provider:    config.ProviderLlama,
		Host:        "127.0.0.1",
		Port:        0,
		HostKeyPath: filepath.Join(t.TempDir(), "host_key.pem"),
		IdleTimeout: 2 * time.Second,
	}
}

func startServer(t *testing.T, p provider.Provider, mode Mode) *Server {
	t.Helper()
	srv, err := New(testConfig(t), p, mode)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(context.Background()) //nolint:errcheck
	}()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

// readUntil reads from r until the accumulated text contains want.
func readUntil(t *testing.T, r *bufio.Reader, want string) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := r.ReadByte()
		if err != nil {
			break
		}
		sb.WriteByte(b)
		if strings.Contains(sb.String(), want) {
			return sb.String()
		}
	}
	t.Fatalf("never saw %q in output:\n%s", want, sb.String())
	return ""
}

func TestPlainTCPSessionEndToEnd(t *testing.T) {
	p := &recordingProvider{resp: "total 0"}
	srv := startServer(t, p, ModePlainTCP)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
	r := bufio.NewReader(conn)

	readUntil(t, r, "login: ")
	_, err = conn.Write([]byte("admin\r\n"))
	require.NoError(t, err)

	readUntil(t, r, "Password: ")
	_, err = conn.Write([]byte("hunter2\r\n"))
	require.NoError(t, err)

	readUntil(t, r, prompt)
	_, err = conn.Write([]byte("ls\r\n"))
	require.NoError(t, err)

	readUntil(t, r, "total 0")
	p.mu.Lock()
	require.Len(t, p.prompts, 1)
	assert.Contains(t, p.prompts[0], "running this command: ls")
	p.mu.Unlock()

	readUntil(t, r, prompt)
	_, err = conn.Write([]byte("exit\r\n"))
	require.NoError(t, err)
	readUntil(t, r, "logout")
}

func TestPlainTCPBannerBeforeLogin(t *testing.T) {
	srv := startServer(t, &recordingProvider{resp: "x"}, ModePlainTCP)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck

	out := readUntil(t, bufio.NewReader(conn), "login: ")
	assert.Contains(t, out, "Ubuntu 22.04.1 LTS")
}

func TestServerBindFailureIsImmediate(t *testing.T) {
	cfg := testConfig(t)

	// Occupy a port, then try to bind it again.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	srv, err := New(cfg, &recordingProvider{}, ModePlainTCP)
	require.NoError(t, err)

	err = srv.ListenAndServe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestServerStopExitsAcceptLoop(t *testing.T) {
	srv, err := New(testConfig(t), &recordingProvider{}, ModePlainTCP)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	assert.True(t, srv.Running())
	srv.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
	assert.False(t, srv.Running())
}

func TestServerStopIsIdempotent(t *testing.T) {
	srv, err := New(testConfig(t), &recordingProvider{}, ModePlainTCP)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	go srv.Serve(context.Background()) //nolint:errcheck

	srv.Stop()
	srv.Stop() // second call must not panic or block
	assert.False(t, srv.Running())
}

func TestServerAcceptsConcurrentSessions(t *testing.T) {
	p := &recordingProvider{resp: "ok"}
	srv := startServer(t, p, ModePlainTCP)

	const n = 5
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	// Every connection gets its own login prompt concurrently.
	for _, c := range conns {
		c.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
		readUntil(t, bufio.NewReader(c), "login: ")
	}
}
