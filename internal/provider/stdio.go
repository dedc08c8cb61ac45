package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/SomethingGeneric/aihoneypot/internal/config"
)

// Stdio drives a child process speaking line-delimited JSON-RPC over its
// standard input and output. The provider owns the child for its lifetime:
// spawned at construction, terminated by Close.
//
// The framing allows one pending request at a time; Generate serializes
// callers internally.
type Stdio struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan []byte
	done    chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	nextID int64

	closeOnce sync.Once
	closeErr  error
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Prompt string `json:"prompt"`
}

type rpcResponse struct {
	ID     int64 `json:"id"`
	Result *struct {
		Content string `json:"content"`
	} `json:"result"`
	Error json.RawMessage `json:"error"`
}

// NewStdio spawns the configured server process and wires up its pipes.
func NewStdio(cfg *config.MCPConfig) (*Stdio, error) {
	cmd := exec.Command(cfg.ServerPath, cfg.ServerArgs...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &BackendError{Provider: "mcp", Reason: "open stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &BackendError{Provider: "mcp", Reason: "open stdout pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &BackendError{Provider: "mcp", Reason: "start server process", Err: err}
	}

	s := &Stdio{
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan []byte),
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
	}
	go s.readLoop(stdout)
	return s, nil
}

// readLoop forwards response lines from the child. The channel is closed when
// the child closes its end, which makes every waiting and future Generate
// fail fast instead of hanging.
func (s *Stdio) readLoop(stdout io.Reader) {
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case s.lines <- line:
			case <-s.done:
				return
			}
		}
		if err != nil {
			close(s.lines)
			return
		}
	}
}

// Generate writes one request line and blocks for the response carrying the
// matching id. Responses to requests whose callers already gave up are
// discarded, so a slow answer never becomes the next command's result.
func (s *Stdio) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      s.nextID,
		Method:  "generate",
		Params:  rpcParams{Prompt: prompt},
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", &BackendError{Provider: "mcp", Reason: "encode request", Err: err}
	}
	if _, err := s.stdin.Write(append(payload, '\n')); err != nil {
		return "", &BackendError{Provider: "mcp", Reason: "server process not accepting requests", Err: err}
	}

	timeout := s.timeout
	if timeout <= 0 {
		timeout = config.DefaultMCPTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return "", &BackendError{Provider: "mcp", Reason: "server process closed its output"}
			}
			resp, err := decodeStdioResponse(line)
			if err != nil {
				return "", err
			}
			if resp.ID != req.ID {
				// An answer to an earlier request whose caller gave up
				// waiting. Dropping it keeps requests and responses paired.
				continue
			}
			return resp.text()
		case <-ctx.Done():
			return "", &BackendError{Provider: "mcp", Reason: "request cancelled", Err: ctx.Err()}
		case <-timer.C:
			return "", &BackendError{Provider: "mcp", Reason: fmt.Sprintf("no response within %s", timeout)}
		}
	}
}

func decodeStdioResponse(line []byte) (*rpcResponse, error) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, &BackendError{Provider: "mcp", Reason: "unparsable response line", Err: err}
	}
	return &resp, nil
}

// text extracts the generated content, turning the protocol's failure shapes
// into backend errors.
func (r *rpcResponse) text() (string, error) {
	if len(r.Error) > 0 && string(r.Error) != "null" {
		return "", &BackendError{Provider: "mcp", Reason: "server error: " + string(r.Error)}
	}
	if r.Result == nil {
		return "", &BackendError{Provider: "mcp", Reason: "response carries no result"}
	}
	return r.Result.Content, nil
}

func parseStdioResponse(line []byte) (string, error) {
	resp, err := decodeStdioResponse(line)
	if err != nil {
		return "", err
	}
	return resp.text()
}

// Close terminates the child process and waits for it to exit.
func (s *Stdio) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.closeErr = s.cmd.Wait()
	})
	return s.closeErr
}
