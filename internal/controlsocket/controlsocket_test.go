package controlsocket

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localslackirc/bridge/internal/models"
)

type fakeSender struct {
	written  []string
	sendFile func(channel string, body io.Reader, filename string) error
}

func (f *fakeSender) SendMessage(channel, text string, action bool, threadTS models.Timestamp, reSendToIRC bool) (models.Timestamp, error) {
	f.written = append(f.written, channel+":"+text)
	return "1.1", nil
}

func (f *fakeSender) SendFile(channel string, body io.Reader, filename string, threadTS models.Timestamp) error {
	if f.sendFile != nil {
		return f.sendFile(channel, body, filename)
	}
	return nil
}

type fakeResolver struct{ known map[string]string }

func (r *fakeResolver) ResolveDestination(name string) (string, bool) {
	id, ok := r.known[name]
	return id, ok
}

func startTestServer(t *testing.T, sender *fakeSender, resolver *fakeResolver) string {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "control.sock")
	s := New(sockPath, sender, resolver, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan struct{})
	go func() {
		for {
			if _, err := os.Stat(sockPath); err == nil {
				close(ready)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	go s.Serve(ctx)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("control socket never appeared")
	}
	return sockPath
}

func TestWrite_SendsMessageWithResendToIRC(t *testing.T) {
	sender := &fakeSender{}
	resolver := &fakeResolver{known: map[string]string{"#general": "C1"}}
	sockPath := startTestServer(t, sender, resolver)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	io.WriteString(conn, "write\n#general\nhello from cli")
	conn.(*net.UnixConn).CloseWrite()

	// Give the handler goroutine time to process before the test exits.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, sender.written, 1)
	assert.Equal(t, "C1:hello from cli", sender.written[0])
}

func TestWrite_UnknownDestinationIsDropped(t *testing.T) {
	sender := &fakeSender{}
	resolver := &fakeResolver{known: map[string]string{}}
	sockPath := startTestServer(t, sender, resolver)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	io.WriteString(conn, "write\n#nosuch\nhello")
	conn.(*net.UnixConn).CloseWrite()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.written)
}

func TestSendfile_RepliesOkOnSuccess(t *testing.T) {
	sender := &fakeSender{}
	resolver := &fakeResolver{known: map[string]string{"#general": "C1"}}
	sockPath := startTestServer(t, sender, resolver)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	io.WriteString(conn, "sendfile\n#general\nreport.txt\nfile body bytes")
	conn.(*net.UnixConn).CloseWrite()

	reply := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(reply[:n]))
}

func TestSendfile_RepliesFailOnUnknownDestination(t *testing.T) {
	sender := &fakeSender{}
	resolver := &fakeResolver{known: map[string]string{}}
	sockPath := startTestServer(t, sender, resolver)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	io.WriteString(conn, "sendfile\n#nosuch\nreport.txt\nbytes")
	conn.(*net.UnixConn).CloseWrite()

	reply := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, "fail\n", string(reply[:n]))
}

func TestHandle_UnknownCommandIsIgnored(t *testing.T) {
	sender := &fakeSender{}
	resolver := &fakeResolver{known: map[string]string{}}
	sockPath := startTestServer(t, sender, resolver)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	io.WriteString(conn, "bogus\nsomething\n")
	conn.(*net.UnixConn).CloseWrite()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.written)
}
