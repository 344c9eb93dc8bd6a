// Package transport implements the bridge's HTTP/1.1 client (spec §4.1): a
// pooled, keep-alive connection to a single origin with one silent retry on
// a broken pipe, manual chunked/gzip response decoding, and multipart or
// urlencoded request bodies depending on whether any field is a stream.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/localslackirc/bridge/internal/bridgeerr"
	"github.com/localslackirc/bridge/internal/requestid"
)

// Response is a decoded HTTP response: status, lower-cased headers, and the
// fully read (and decompressed) body.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Field is one multipart/form-data field. Set Reader (and Filename) to send
// a file; otherwise Value is sent as a plain form field.
type Field struct {
	Value    string
	Reader   io.Reader
	Filename string
}

type conn struct {
	mu sync.Mutex
	nc net.Conn
	r  *bufio.Reader
}

// Client is a connection-pooled HTTP/1.1 client for one origin.
type Client struct {
	host   string
	port   string
	path   string
	useTLS bool
	dialer *net.Dialer

	poolMu sync.Mutex
	pool   map[string]*conn
}

// New builds a Client targeting baseURL, e.g. "https://slack.com/api/".
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}
	port := u.Port()
	useTLS := u.Scheme == "https"
	if port == "" {
		if useTLS {
			port = "443"
		} else {
			port = "80"
		}
	}
	return &Client{
		host:   u.Hostname(),
		port:   port,
		path:   u.Path,
		useTLS: useTLS,
		dialer: &net.Dialer{Timeout: 10 * time.Second},
		pool:   make(map[string]*conn),
	}, nil
}

func (c *Client) dial() (net.Conn, error) {
	addr := net.JoinHostPort(c.host, c.port)
	if c.useTLS {
		return tls.DialWithDialer(c.dialer, "tcp", addr, &tls.Config{ServerName: c.host})
	}
	return c.dialer.Dial("tcp", addr)
}

// connFor returns the pooled connection for key, dialing one on first use.
// Keying by task lets independent goroutines (e.g. the RTM pump and a
// one-off file upload) avoid serializing on a single socket.
func (c *Client) connFor(key string) (*conn, error) {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()

	if cn, ok := c.pool[key]; ok {
		return cn, nil
	}
	nc, err := c.dial()
	if err != nil {
		return nil, err
	}
	cn := &conn{nc: nc, r: bufio.NewReader(nc)}
	c.pool[key] = cn
	return cn, nil
}

func (c *Client) redial(key string, cn *conn) error {
	nc, err := c.dial()
	if err != nil {
		return err
	}
	cn.nc = nc
	cn.r = bufio.NewReader(nc)
	return nil
}

func buildBody(fields map[string]Field) (contentType string, body []byte) {
	hasStream := false
	for _, f := range fields {
		if f.Reader != nil {
			hasStream = true
			break
		}
	}
	if !hasStream {
		form := url.Values{}
		for k, f := range fields {
			form.Set(k, f.Value)
		}
		return "application/x-www-form-urlencoded", []byte(form.Encode())
	}

	boundary := uuid.New().String()
	var buf bytes.Buffer
	for k, f := range fields {
		buf.WriteString("--" + boundary + "\r\n")
		if f.Reader != nil {
			filename := f.Filename
			if filename == "" {
				filename = k
			}
			buf.WriteString(fmt.Sprintf("Content-Disposition: form-data; name=%q; filename=%q\r\n\r\n", k, filename))
			io.Copy(&buf, f.Reader)
			buf.WriteString("\r\n")
			continue
		}
		buf.WriteString(fmt.Sprintf("Content-Disposition: form-data; name=%q\r\n\r\n", k))
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("--" + boundary + "--\r\n")
	return "multipart/form-data; boundary=" + boundary, buf.Bytes()
}

// Post issues key-pooled POST path with the given headers and form fields,
// retrying once on a fresh connection if the write fails (broken pipe,
// reset, or unexpected EOF from a stale keep-alive socket).
func (c *Client) Post(key, path string, headers map[string]string, fields map[string]Field) (Response, error) {
	return c.PostContext(context.Background(), key, path, headers, fields)
}

// PostContext is Post with an explicit context, whose request ID (generated
// if absent) is sent as the X-Request-Id header so a single Slack call can
// be traced across the bridge's logs.
func (c *Client) PostContext(ctx context.Context, key, path string, headers map[string]string, fields map[string]Field) (Response, error) {
	contentType, body := buildBody(fields)

	headers = withRequestID(ctx, headers)

	cn, err := c.connFor(key)
	if err != nil {
		return Response{}, &bridgeerr.TransportError{Op: "dial", Err: err}
	}

	cn.mu.Lock()
	defer cn.mu.Unlock()

	resp, err := c.roundTrip(cn, path, headers, contentType, body)
	if err != nil {
		if rerr := c.redial(key, cn); rerr != nil {
			return Response{}, &bridgeerr.TransportError{Op: "redial", Err: rerr}
		}
		resp, err = c.roundTrip(cn, path, headers, contentType, body)
		if err != nil {
			return Response{}, &bridgeerr.TransportError{Op: "post", Err: err}
		}
	}
	return resp, nil
}

func (c *Client) roundTrip(cn *conn, path string, headers map[string]string, contentType string, body []byte) (Response, error) {
	var req strings.Builder
	req.WriteString("POST " + c.path + path + " HTTP/1.1\r\n")
	req.WriteString("Host: " + c.host + "\r\n")
	req.WriteString("Connection: keep-alive\r\n")
	req.WriteString("Accept-Encoding: gzip\r\n")
	for k, v := range headers {
		req.WriteString(k + ": " + v + "\r\n")
	}
	req.WriteString("Content-Type: " + contentType + "\r\n")
	req.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	req.WriteString("\r\n")

	if _, err := cn.nc.Write([]byte(req.String())); err != nil {
		return Response{}, err
	}
	if _, err := cn.nc.Write(body); err != nil {
		return Response{}, err
	}

	return readResponse(cn.r)
}

func readResponse(r *bufio.Reader) (Response, error) {
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return Response{}, err
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return Response{}, fmt.Errorf("transport: malformed status line %q", statusLine)
	}
	status, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Response{}, fmt.Errorf("transport: malformed status code %q", parts[1])
	}

	headers := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return Response{}, err
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}

	var data []byte
	switch {
	case headers["transfer-encoding"] == "chunked":
		data, err = readChunked(r)
		if err != nil {
			return Response{}, err
		}
	case headers["content-length"] != "":
		size, err := strconv.Atoi(headers["content-length"])
		if err != nil {
			return Response{}, fmt.Errorf("transport: malformed content-length: %w", err)
		}
		data = make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return Response{}, err
		}
	default:
		return Response{}, fmt.Errorf("transport: response has neither chunked nor content-length framing: %v", headers)
	}

	if headers["content-encoding"] == "gzip" {
		data, err = gunzip(data)
		if err != nil {
			return Response{}, fmt.Errorf("transport: gzip decode: %w", err)
		}
	}

	return Response{Status: status, Headers: headers, Body: data}, nil
}

func readChunked(r *bufio.Reader) ([]byte, error) {
	var out bytes.Buffer
	for {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeLine = strings.TrimRight(sizeLine, "\r\n")
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeLine = sizeLine[:idx]
		}
		size, err := strconv.ParseInt(sizeLine, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("transport: malformed chunk size %q: %w", sizeLine, err)
		}
		chunk := make([]byte, size+2) // +2 trailing CRLF
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		out.Write(chunk[:size])
		if size == 0 {
			break
		}
	}
	return out.Bytes(), nil
}

func withRequestID(ctx context.Context, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out["X-Request-Id"] = requestid.FromContext(ctx)
	return out
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
