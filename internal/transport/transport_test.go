package transport

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts a single connection and writes raw to it whatever the
// handler returns for each request line it reads, until the listener closes.
func serveOnce(t *testing.T, handle func(reqLine string, headers map[string]string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		r := bufio.NewReader(nc)
		for {
			reqLine, err := r.ReadString('\n')
			if err != nil {
				return
			}
			headers := map[string]string{}
			for {
				line, err := r.ReadString('\n')
				if err != nil || line == "\r\n" {
					break
				}
				kv := strings.SplitN(line, ":", 2)
				if len(kv) == 2 {
					headers[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
				}
			}
			if n := headers["content-length"]; n != "" {
				var size int
				for _, c := range n {
					size = size*10 + int(c-'0')
				}
				buf := make([]byte, size)
				r.Read(buf)
			}
			nc.Write([]byte(handle(reqLine, headers)))
		}
	}()
	return ln.Addr().String()
}

func TestPost_ContentLengthResponse(t *testing.T) {
	addr := serveOnce(t, func(reqLine string, headers map[string]string) string {
		body := `{"ok":true}`
		return "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	})

	c, err := New("http://" + addr + "/api/")
	require.NoError(t, err)

	resp, err := c.Post("main", "chat.postMessage", nil, map[string]Field{"text": {Value: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func TestPost_SetsRequestIDHeader(t *testing.T) {
	var seenID string
	addr := serveOnce(t, func(reqLine string, headers map[string]string) string {
		seenID = headers["x-request-id"]
		body := "ok"
		return "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	})

	c, err := New("http://" + addr + "/api/")
	require.NoError(t, err)

	_, err = c.Post("main", "auth.test", nil, map[string]Field{"token": {Value: "x"}})
	require.NoError(t, err)
	assert.NotEmpty(t, seenID)
}

func TestPost_ChunkedResponse(t *testing.T) {
	addr := serveOnce(t, func(reqLine string, headers map[string]string) string {
		return "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	})

	c, err := New("http://" + addr + "/api/")
	require.NoError(t, err)

	resp, err := c.Post("main", "rtm.connect", nil, map[string]Field{"token": {Value: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(resp.Body))
}

func TestPost_MultipartWhenFieldHasReader(t *testing.T) {
	var seenContentType string
	addr := serveOnce(t, func(reqLine string, headers map[string]string) string {
		seenContentType = headers["content-type"]
		body := "ok"
		return "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	})

	c, err := New("http://" + addr + "/api/")
	require.NoError(t, err)

	_, err = c.Post("upload", "files.upload", nil, map[string]Field{
		"file": {Reader: strings.NewReader("contents"), Filename: "a.txt"},
	})
	require.NoError(t, err)
	assert.Contains(t, seenContentType, "multipart/form-data; boundary=")
}

func TestPost_RetriesOnceAfterStaleConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for i := 0; i < 2; i++ {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			if i == 0 {
				nc.Close() // first connection is immediately reset
				continue
			}
			r := bufio.NewReader(nc)
			r.ReadString('\n')
			for {
				line, err := r.ReadString('\n')
				if err != nil || line == "\r\n" {
					break
				}
			}
			body := "ok"
			nc.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body))
			nc.Close()
		}
	}()

	c, err := New("http://" + ln.Addr().String() + "/api/")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	resp, err := c.Post("main", "auth.test", nil, map[string]Field{"token": {Value: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
