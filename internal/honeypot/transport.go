// Package honeypot implements the session engine: the accept loop, the
// per-connection protocol state machine, and raw line editing over untrusted
// byte streams.
package honeypot

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrIdleTimeout reports that a session sat idle past its deadline. It is a
// cause for closing, not an error condition.
var ErrIdleTimeout = errors.New("session idle timeout")

// Transport is what a session handler needs from a connection, whichever
// framing carries it: send bytes, receive bytes with a timeout, signal
// completion, close. Both the SSH channel and the plain-TCP fallback
// implement it.
type Transport interface {
	// Recv returns the next chunk of client bytes. It returns ErrIdleTimeout
	// when nothing arrives within the given duration and io.EOF when the
	// client is gone. Chunks carry no framing; a byte at a time is normal.
	Recv(timeout time.Duration) ([]byte, error)
	// Send writes bytes to the client.
	Send(p []byte) error
	// SendExitStatus reports a command completion code where the framing has
	// such a concept. The plain-TCP fallback ignores it.
	SendExitStatus(code uint32)
	// Close tears the transport down. Safe to call more than once.
	Close() error
}

// pump adapts a blocking io.Reader into the Recv-with-timeout shape by
// reading on a dedicated goroutine. The goroutine exits when the reader
// fails or when the pump is stopped.
type pump struct {
	chunks   chan []byte
	errs     chan error
	done     chan struct{}
	stopOnce sync.Once
}

func newPump(r io.Reader) *pump {
	p := &pump{
		chunks: make(chan []byte),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case p.chunks <- chunk:
				case <-p.done:
					return
				}
			}
			if err != nil {
				p.errs <- err
				return
			}
		}
	}()
	return p
}

// recv waits for the next chunk, a reader error, or the timeout.
func (p *pump) recv(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk := <-p.chunks:
		return chunk, nil
	case err := <-p.errs:
		return nil, err
	case <-p.done:
		return nil, io.EOF
	case <-timer.C:
		return nil, ErrIdleTimeout
	}
}

// stop releases the reader goroutine. The owning transport also closes the
// underlying stream so the blocked Read returns.
func (p *pump) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}
