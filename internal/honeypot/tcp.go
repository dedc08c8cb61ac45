package honeypot

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/SomethingGeneric/aihoneypot/internal/logging"
	"github.com/SomethingGeneric/aihoneypot/internal/shell"
)

// tcpBanner opens the hand-rolled login exchange of the plain-TCP fallback.
// There is no cryptography here and no real protocol behind the prompts; it
// is an intentionally simplified transport for environments where the SSH
// handshake is not wanted.
const tcpBanner = "Ubuntu 22.04.1 LTS\r\n"

// tcpTransport carries a session over a bare TCP connection. Input is
// line-buffered: the client's own terminal handles echo, so the session
// runs without raw single-byte echoing.
type tcpTransport struct {
	conn      net.Conn
	pump      *pump
	closeOnce sync.Once
	closeErr  error
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	return &tcpTransport{conn: conn, pump: newPump(conn)}
}

func (t *tcpTransport) Recv(timeout time.Duration) ([]byte, error) {
	return t.pump.recv(timeout)
}

func (t *tcpTransport) Send(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

// SendExitStatus is a no-op; bare TCP has no completion signalling.
func (t *tcpTransport) SendExitStatus(uint32) {}

func (t *tcpTransport) Close() error {
	t.closeOnce.Do(func() {
		t.pump.stop()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// handleTCPConn performs the fake login exchange and then runs the
// interactive loop. Whatever credentials arrive are accepted and logged.
func (s *Server) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	addr := conn.RemoteAddr().String()
	t := newTCPTransport(conn)
	defer t.Close()

	sess := NewSession(t, shell.New(s.provider), addr, "", false, s.idleTimeout, s.Running)

	if !sess.send(tcpBanner) || !sess.send("login: ") {
		return
	}
	user, err := sess.readLine()
	if err != nil {
		return
	}
	if !sess.send("Password: ") {
		return
	}
	password, err := sess.readLine()
	if err != nil {
		return
	}

	user = strings.TrimSpace(user)
	if user == "" {
		user = "unknown"
	}
	logging.Credential(addr, user, strings.TrimSpace(password))

	sess.user = user
	sess.log = logging.Session(addr, user)
	sess.RunInteractive(ctx)
}
