package provider

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SomethingGeneric/aihoneypot/internal/config"
)

// stdioFor spawns /bin/sh running the given script as the backend process.
func stdioFor(t *testing.T, script string, timeout time.Duration) *Stdio {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stdio provider tests need a POSIX shell")
	}
	s, err := NewStdio(&config.MCPConfig{
		ServerPath: "/bin/sh",
		ServerArgs: []string{"-c", script},
		Timeout:    timeout,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// echoIDScript answers every request with the given content, echoing the
// request's id back the way a real server would.
func echoIDScript(content string) string {
	return `while read line; do
  id=${line#*\"id\":}; id=${id%%,*}
  echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"content\":\"` + content + `\"}}"
done`
}

func TestStdioGenerate(t *testing.T) {
	s := stdioFor(t, echoIDScript("total 0"), 5*time.Second)

	out, err := s.Generate(context.Background(), "ls -la")
	require.NoError(t, err)
	assert.Equal(t, "total 0", out)

	// The channel survives across requests.
	out, err = s.Generate(context.Background(), "ls")
	require.NoError(t, err)
	assert.Equal(t, "total 0", out)
}

func TestStdioGenerateServerError(t *testing.T) {
	script := `while read line; do echo '{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"bad request"}}'; done`
	s := stdioFor(t, script, 5*time.Second)

	_, err := s.Generate(context.Background(), "ls")
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	assert.Contains(t, err.Error(), "server error")
}

func TestStdioGenerateUnparsableLine(t *testing.T) {
	script := `while read line; do echo 'this is not json'; done`
	s := stdioFor(t, script, 5*time.Second)

	_, err := s.Generate(context.Background(), "ls")
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
}

func TestStdioGenerateDeadProcessFailsFast(t *testing.T) {
	s := stdioFor(t, "exit 0", 30*time.Second)

	// Give the child a moment to exit.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_, err := s.Generate(context.Background(), "ls")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	assert.Less(t, elapsed, 2*time.Second, "dead-process call must fail fast, not hang")
}

func TestStdioGenerateTimeout(t *testing.T) {
	// A server that never answers.
	s := stdioFor(t, "sleep 30", 100*time.Millisecond)

	_, err := s.Generate(context.Background(), "ls")
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	assert.Contains(t, err.Error(), "no response")
}

func TestStdioGenerateContextCancel(t *testing.T) {
	s := stdioFor(t, "sleep 30", 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := s.Generate(ctx, "ls")
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
}

func TestStdioLateResponseNotMisattributed(t *testing.T) {
	// The first answer arrives after its caller has given up; the second
	// request must not receive it.
	script := `read line; sleep 0.3; echo '{"jsonrpc":"2.0","id":1,"result":{"content":"stale"}}'
read line; echo '{"jsonrpc":"2.0","id":2,"result":{"content":"fresh"}}'
sleep 30`
	s := stdioFor(t, script, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Generate(ctx, "first")
	require.Error(t, err)

	out, err := s.Generate(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "fresh", out)
}

func TestStdioCloseWithUndeliveredLine(t *testing.T) {
	// The child speaks without being asked, so its line sits undelivered.
	// Close must still return instead of waiting for a reader.
	script := `echo '{"jsonrpc":"2.0","id":9,"result":{"content":"unsolicited"}}'; sleep 30`
	s := stdioFor(t, script, time.Second)
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on an undelivered response line")
	}
}

func TestStdioCloseIsIdempotent(t *testing.T) {
	s := stdioFor(t, "sleep 30", time.Second)
	err1 := s.Close()
	err2 := s.Close()
	assert.Equal(t, err1, err2)
}

func TestParseStdioResponse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		wantErr string
	}{
		{
			name: "result content",
			line: `{"jsonrpc":"2.0","id":3,"result":{"content":"uid=0(root)"}}`,
			want: "uid=0(root)",
		},
		{
			name:    "error member",
			line:    `{"jsonrpc":"2.0","id":3,"error":{"code":1,"message":"nope"}}`,
			wantErr: "server error",
		},
		{
			name:    "null result",
			line:    `{"jsonrpc":"2.0","id":3,"result":null}`,
			wantErr: "no result",
		},
		{
			name:    "not json",
			line:    `garbage`,
			wantErr: "unparsable",
		},
		{
			name: "explicit null error is not an error",
			line: `{"jsonrpc":"2.0","id":3,"error":null,"result":{"content":"ok"}}`,
			want: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStdioResponse([]byte(tt.line))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
