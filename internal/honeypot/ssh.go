package honeypot

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/SomethingGeneric/aihoneypot/internal/logging"
	"github.com/SomethingGeneric/aihoneypot/internal/shell"
)

// serverVersion is the banner presented during the handshake. Cosmetic only;
// it matches the Ubuntu release the fake shell claims to be.
const serverVersion = "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1"

// LoadOrGenerateHostKey returns the host key at path, generating and
// persisting a fresh RSA key when none exists. Persisting keeps the host
// fingerprint stable across restarts, which matters for a honeypot: a
// changing fingerprint scares scanners away.
func LoadOrGenerateHostKey(path string) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		if block, _ := pem.Decode(data); block != nil {
			if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				return ssh.NewSignerFromKey(key)
			}
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	encoded := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(path, encoded, 0600); err != nil {
		return nil, err
	}
	logging.Info().Str("path", path).Msg("generated new host key")
	return ssh.NewSignerFromKey(key)
}

// newSSHServerConfig builds the handshake configuration. Every credential is
// accepted; the point is to let the attacker in and record what they tried.
func newSSHServerConfig(hostKey ssh.Signer) *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		ServerVersion: serverVersion,
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			logging.Credential(conn.RemoteAddr().String(), conn.User(), string(password))
			return &ssh.Permissions{}, nil
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			logging.Credential(conn.RemoteAddr().String(), conn.User(), "<pubkey:"+ssh.FingerprintSHA256(key)+">")
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(hostKey)
	return cfg
}

// sshTransport carries a session over an accepted SSH channel.
type sshTransport struct {
	ch        ssh.Channel
	pump      *pump
	closeOnce sync.Once
	closeErr  error
}

func newSSHTransport(ch ssh.Channel) *sshTransport {
	return &sshTransport{ch: ch, pump: newPump(ch)}
}

func (t *sshTransport) Recv(timeout time.Duration) ([]byte, error) {
	return t.pump.recv(timeout)
}

func (t *sshTransport) Send(p []byte) error {
	_, err := t.ch.Write(p)
	return err
}

func (t *sshTransport) SendExitStatus(code uint32) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, code)
	t.ch.SendRequest("exit-status", false, payload) //nolint:errcheck
}

func (t *sshTransport) Close() error {
	t.closeOnce.Do(func() {
		t.pump.stop()
		t.closeErr = t.ch.Close()
	})
	return t.closeErr
}

// handleSSHConn runs the SSH handshake and serves session channels on one
// raw connection. Cleanup is unconditional on every exit path: channel, then
// SSH connection, then raw socket.
func (s *Server) handleSSHConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		// Port scanners and protocol fuzzers land here constantly.
		logging.Debug().Str("addr", conn.RemoteAddr().String()).Err(err).Msg("handshake failed")
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	addr := sshConn.RemoteAddr().String()
	user := sshConn.User()
	log := logging.Session(addr, user)
	log.Info().Msg("connected")

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			log.Debug().Str("type", newChan.ChannelType()).Msg("rejected channel")
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type") //nolint:errcheck
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			break
		}
		s.serveChannel(ctx, ch, chReqs, addr, user)
	}
	log.Info().Msg("disconnected")
}

// serveChannel waits for the client to ask for a shell or a one-shot exec
// and runs the matching session mode. Anything else is acknowledged or
// refused without ending the channel.
func (s *Server) serveChannel(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request, addr, user string) {
	t := newSSHTransport(ch)
	defer t.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req", "env":
			req.Reply(true, nil) //nolint:errcheck
		case "shell":
			req.Reply(true, nil) //nolint:errcheck
			sess := NewSession(t, shell.New(s.provider), addr, user, true, s.idleTimeout, s.Running)
			sess.RunInteractive(ctx)
			return
		case "exec":
			command, ok := parseExecPayload(req.Payload)
			req.Reply(ok, nil) //nolint:errcheck
			if !ok {
				logger := logging.Session(addr, user)
				logger.Warn().Msg("malformed exec request")
				return
			}
			sess := NewSession(t, shell.New(s.provider), addr, user, true, s.idleTimeout, s.Running)
			sess.RunExec(ctx, command)
			return
		case "window-change":
			req.Reply(false, nil) //nolint:errcheck
		default:
			if req.WantReply {
				req.Reply(false, nil) //nolint:errcheck
			}
		}
	}
}

// parseExecPayload extracts the command from an exec request: a uint32
// length prefix followed by that many bytes. Truncated payloads are a
// protocol violation.
func parseExecPayload(payload []byte) (string, bool) {
	if len(payload) < 4 {
		return "", false
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if uint64(n) > uint64(len(payload)-4) {
		return "", false
	}
	return decodeLine(payload[4 : 4+n]), true
}
