package honeypot

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/SomethingGeneric/aihoneypot/internal/logging"
	"github.com/SomethingGeneric/aihoneypot/internal/provider"
	"github.com/SomethingGeneric/aihoneypot/internal/shell"
)

const prompt = "bash$: "

// Session is the state of one client connection from accept to close. It is
// owned exclusively by its handling goroutine and never shared.
type Session struct {
	transport Transport
	shell     *shell.Shell
	addr      string
	user      string
	log       zerolog.Logger

	// rawEcho selects raw single-byte echo (SSH, client in raw mode) over
	// line-buffered input where the client echoes locally (plain TCP).
	rawEcho bool
	idle    time.Duration

	// running reports whether the server still wants sessions alive. Checked
	// between commands; an in-flight backend call is never cut short.
	running func() bool

	// pending holds bytes received past the last line terminator.
	pending []byte

	// pendingCR is set when a line ended on a bare '\r' with nothing after
	// it, so a '\n' arriving in the next chunk completes the same CRLF pair
	// instead of reading as an empty line.
	pendingCR bool
}

// NewSession wires a session over an accepted transport.
func NewSession(t Transport, sh *shell.Shell, addr, user string, rawEcho bool, idle time.Duration, running func() bool) *Session {
	return &Session{
		transport: t,
		shell:     sh,
		addr:      addr,
		user:      user,
		log:       logging.Session(addr, user),
		rawEcho:   rawEcho,
		idle:      idle,
		running:   running,
	}
}

// RunExec executes a single command and closes: the exec-request path.
// The completion code is always 0 so the client believes the command ran.
func (s *Session) RunExec(ctx context.Context, command string) {
	defer s.transport.Close()

	s.log.Info().Str("command", command).Msg("exec command")

	out, err := s.shell.Execute(ctx, command)
	if err != nil {
		s.log.Warn().Err(err).Msg("backend failure")
		s.send("Error: " + err.Error() + "\n")
	} else {
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		s.send(out)
	}
	s.transport.SendExitStatus(0)
}

// RunInteractive drives the read-eval-print loop until the client leaves,
// goes quiet past the idle deadline, or the server shuts down.
func (s *Session) RunInteractive(ctx context.Context) {
	defer s.transport.Close()

	s.sendWelcome()

	for s.running() {
		if !s.send(prompt) {
			return
		}

		line, err := s.readLine()
		switch {
		case err == nil:
		case errors.Is(err, ErrIdleTimeout):
			s.log.Info().Dur("idle", s.idle).Msg("session timeout")
			return
		case errors.Is(err, io.EOF):
			// Disconnect, including EOF with nothing typed.
			return
		default:
			s.log.Warn().Err(err).Msg("connection error")
			return
		}

		command := strings.TrimSpace(line)
		if command == "" {
			s.send("\r\n")
			continue
		}

		s.log.Info().Str("command", command).Msg("command")

		switch strings.ToLower(command) {
		case "exit", "quit", "logout":
			s.send("\r\nlogout\r\n")
			return
		}

		s.send("\r\n")
		out, err := s.shell.Execute(ctx, command)
		if err != nil {
			// Backend trouble is reported inline; the session survives it.
			if provider.IsBackendError(err) {
				s.log.Warn().Err(err).Msg("backend failure")
			} else {
				s.log.Error().Err(err).Msg("command failed")
			}
			s.send("Error: " + err.Error() + "\r\n")
			continue
		}
		s.send(strings.ReplaceAll(out, "\n", "\r\n") + "\r\n")
	}
}

// readLine accumulates bytes until a line terminator, applying backspace
// editing as it goes. The input buffer never carries more than the current
// unterminated line; leftovers past the terminator are kept for the next
// call. Invalid byte sequences are replaced, never fatal.
func (s *Session) readLine() (string, error) {
	var buf []byte
	for {
		chunk := s.pending
		s.pending = nil
		if len(chunk) == 0 {
			var err error
			chunk, err = s.transport.Recv(s.idle)
			if err != nil {
				if errors.Is(err, io.EOF) && len(buf) > 0 {
					// Stream ended mid-line; the partial line is not a
					// command.
					return "", io.EOF
				}
				return "", err
			}
		}

		for i, b := range chunk {
			if s.pendingCR {
				s.pendingCR = false
				if b == '\n' {
					continue
				}
			}
			switch b {
			case '\n', '\r':
				rest := chunk[i+1:]
				if b == '\r' {
					// CRLF counts as one terminator, even when the pair is
					// split across reads.
					if len(rest) > 0 {
						if rest[0] == '\n' {
							rest = rest[1:]
						}
					} else {
						s.pendingCR = true
					}
				}
				s.pending = append(s.pending, rest...)
				return decodeLine(buf), nil
			case 0x7f, 0x08:
				if len(buf) > 0 {
					buf = buf[:len(buf)-1]
					if s.rawEcho {
						// Erase the character on the client's display.
						s.send("\b \b")
					}
				}
			default:
				buf = append(buf, b)
				if s.rawEcho {
					s.send(string(chunk[i : i+1]))
				}
			}
		}
	}
}

// decodeLine turns raw line bytes into text, replacing invalid sequences.
func decodeLine(buf []byte) string {
	return strings.ToValidUTF8(string(buf), string(utf8.RuneError))
}

// send writes to the client and reports success. Write failures end the
// session at the next loop check; there is nothing else to do with them.
func (s *Session) send(data string) bool {
	if err := s.transport.Send([]byte(data)); err != nil {
		s.log.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}

func (s *Session) sendWelcome() {
	banner := "Welcome to Ubuntu 22.04.1 LTS (GNU/Linux 5.15.0-58-generic x86_64)\r\n\r\n" +
		"Last login: " + time.Now().Format("Mon Jan 2 15:04:05 2006") + " from " + hostOnly(s.addr) + "\r\n"
	s.send(banner)
}

// hostOnly strips the port from a remote address for display.
func hostOnly(addr string) string {
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}
