package honeypot

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader feeds predetermined reads, then blocks until closed.
type chunkReader struct {
	chunks [][]byte
	err    error
	block  chan struct{}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) > 0 {
		n := copy(p, r.chunks[0])
		r.chunks = r.chunks[1:]
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	<-r.block
	return 0, io.EOF
}

func TestPumpDeliversChunksInOrder(t *testing.T) {
	r := &chunkReader{
		chunks: [][]byte{[]byte("ls"), []byte(" -la\r")},
		block:  make(chan struct{}),
	}
	defer close(r.block)
	p := newPump(r)
	defer p.stop()

	got, err := p.recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ls"), got)

	got, err = p.recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte(" -la\r"), got)
}

func TestPumpTimesOutWhenIdle(t *testing.T) {
	r := &chunkReader{block: make(chan struct{})}
	defer close(r.block)
	p := newPump(r)
	defer p.stop()

	start := time.Now()
	_, err := p.recv(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPumpSurfacesReaderError(t *testing.T) {
	boom := errors.New("connection reset")
	p := newPump(&chunkReader{err: boom})
	defer p.stop()

	_, err := p.recv(time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestPumpStopUnblocksRecv(t *testing.T) {
	r := &chunkReader{block: make(chan struct{})}
	defer close(r.block)
	p := newPump(r)

	done := make(chan error, 1)
	go func() {
		_, err := p.recv(time.Minute)
		done <- err
	}()

	p.stop()
	p.stop() // idempotent

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("recv did not unblock after stop")
	}
}
