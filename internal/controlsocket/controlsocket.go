// Package controlsocket implements the Unix-socket side channel local
// helpers use to post a message or upload a file as if it came from IRC
// (spec §4.6).
package controlsocket

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"

	"github.com/localslackirc/bridge/internal/models"
)

// Sender is the subset of the chat client the control socket needs.
type Sender interface {
	SendMessage(channel, text string, action bool, threadTS models.Timestamp, reSendToIRC bool) (models.Timestamp, error)
	SendFile(channel string, body io.Reader, filename string, threadTS models.Timestamp) error
}

// Resolver maps an IRC-style destination name ("#channel" or a nick) to a
// chat channel id. It is satisfied by (*internal/ircserver.Server).
type Resolver interface {
	ResolveDestination(name string) (channelID string, ok bool)
}

// Server accepts control-socket connections and dispatches write/sendfile
// commands to the chat client.
type Server struct {
	path     string
	sender   Sender
	resolver Resolver
	log      zerolog.Logger
}

// New constructs a Server bound to a Unix socket at path.
func New(path string, sender Sender, resolver Resolver, log zerolog.Logger) *Server {
	return &Server{
		path:     path,
		sender:   sender,
		resolver: resolver,
		log:      log.With().Str("component", "controlsocket").Logger(),
	}
}

// Serve listens on the configured path and handles connections until ctx
// is cancelled. Any stale socket file at path is removed first.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	defer ln.Close()
	defer os.Remove(s.path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handle(conn)
	}
}

// handle reads one command off conn: a first line naming the command, a
// destination line, and then the body until EOF (spec §4.6).
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	cmd, err := readLine(r)
	if err != nil {
		return
	}

	switch cmd {
	case "write":
		s.handleWrite(conn, r)
	case "sendfile":
		s.handleSendfile(conn, r)
	default:
		s.log.Warn().Str("command", cmd).Msg("unknown control-socket command")
	}
}

func (s *Server) handleWrite(conn net.Conn, r *bufio.Reader) {
	dest, err := readLine(r)
	if err != nil {
		return
	}
	channelID, ok := s.resolver.ResolveDestination(dest)
	if !ok {
		s.log.Warn().Str("dest", dest).Msg("write: unknown destination")
		return
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return
	}
	if _, err := s.sender.SendMessage(channelID, string(body), false, "", true); err != nil {
		s.log.Warn().Err(err).Str("dest", dest).Msg("write failed")
	}
}

func (s *Server) handleSendfile(conn net.Conn, r *bufio.Reader) {
	dest, err := readLine(r)
	if err != nil {
		writeReply(conn, "fail")
		return
	}
	filename, err := readLine(r)
	if err != nil {
		writeReply(conn, "fail")
		return
	}
	channelID, ok := s.resolver.ResolveDestination(dest)
	if !ok {
		writeReply(conn, "fail")
		return
	}
	if err := s.sender.SendFile(channelID, r, filename, ""); err != nil {
		s.log.Warn().Err(err).Str("dest", dest).Msg("sendfile failed")
		writeReply(conn, "fail")
		return
	}
	writeReply(conn, "ok")
}

func writeReply(conn net.Conn, reply string) {
	io.WriteString(conn, reply+"\n")
}

// readLine reads one line and trims its terminator, failing on EOF before
// any content was read (a malformed connection per spec §4.6).
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}
