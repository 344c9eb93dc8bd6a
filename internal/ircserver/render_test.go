package ircserver

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/slackclient"
)

// attachPipe wires s to one end of a loopback TCP connection and returns a
// line reader for the other end, so tests can assert on exactly what the
// server wrote. The kernel buffers the server's writes, so a test can call
// a writing method first and read its output afterwards.
func attachPipe(t *testing.T, s *Server) *bufio.Scanner {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { server.Close(); client.Close() })
	s.conn = server
	scanner := bufio.NewScanner(client)
	return scanner
}

func readLine(t *testing.T, scanner *bufio.Scanner) string {
	t.Helper()
	done := make(chan bool, 1)
	var ok bool
	go func() { ok = scanner.Scan(); done <- true }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a line")
	}
	require.True(t, ok, scanner.Err())
	return scanner.Text()
}

func TestRenderMessage_PlainText(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	chat.users["U1"] = models.User{ID: "U1", Handle: "alice"}
	s := newTestServer(chat)
	scanner := attachPipe(t, s)

	s.renderMessage("C1", "U1", "hello there", "", false)
	line := readLine(t, scanner)
	assert.Contains(t, line, "alice!alice@127.0.0.1 PRIVMSG #general :hello there")
}

func TestRenderChatEvent_EditRendersSedDiff(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	chat.users["U1"] = models.User{ID: "U1", Handle: "alice"}
	s := newTestServer(chat)
	scanner := attachPipe(t, s)

	edit := models.MessageEdit{
		ChannelID: "C1",
		Previous:  models.NoChanMessage{UserID: "U1", Text: "hello world"},
		Current:   models.NoChanMessage{UserID: "U1", Text: "hello there"},
	}
	s.renderChatEvent(edit)
	line := readLine(t, scanner)
	assert.Contains(t, line, "PRIVMSG #general :s/world/there/")
}

func TestRenderChatEvent_UnchangedEditIsDropped(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	s.conn = server

	edit := models.MessageEdit{
		ChannelID: "C1",
		Previous:  models.NoChanMessage{UserID: "U1", Text: "same"},
		Current:   models.NoChanMessage{UserID: "U1", Text: "same"},
	}
	// Should not write anything; renderMessage would block the pipe if it
	// tried, so a fast return proves the drop.
	done := make(chan struct{})
	go func() { s.renderChatEvent(edit); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renderChatEvent did not return promptly for an unchanged edit")
	}
}

func TestRenderChatEvent_DeleteIsPrefixed(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	chat.users["U1"] = models.User{ID: "U1", Handle: "alice"}
	s := newTestServer(chat)
	scanner := attachPipe(t, s)

	s.renderChatEvent(models.MessageDelete{ChannelID: "C1", Previous: models.NoChanMessage{UserID: "U1", Text: "oops"}})
	line := readLine(t, scanner)
	assert.Contains(t, line, "PRIVMSG #general :[deleted] oops")
}

func TestResolveDestination_PartedChannelSuppressesWithoutMention(t *testing.T) {
	chat := newFakeChat()
	chat.ws = models.Workspace{SelfID: "USELF"}
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	s := newTestServer(chat)
	s.part("#general")

	dest, _ := s.resolveDestination("C1", "", "just chatting")
	assert.Equal(t, "", dest)
}

func TestResolveDestination_PartedChannelRejoinsOnMention(t *testing.T) {
	chat := newFakeChat()
	chat.ws = models.Workspace{SelfID: "USELF"}
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	s := newTestServer(chat)
	s.part("#general")

	dest, mentions := s.resolveDestination("C1", "", "hey <@USELF> look")
	assert.True(t, mentions)
	assert.Equal(t, "#general", dest)
	assert.False(t, s.isParted("#general"))
}

func TestResolveDestination_ThreadSynthesisJoinsOnce(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	chat.threads["C1:111.1"] = models.MessageThread{ParentChannelID: "C1", ThreadTS: "111.1"}
	s := newTestServer(chat)
	scanner := attachPipe(t, s)

	dest, _ := s.resolveDestination("C1", "111.1", "first reply")
	assert.Equal(t, "#t-general-111.1", dest)
	joinLine := readLine(t, scanner)
	assert.Contains(t, joinLine, "JOIN #t-general-111.1")

	// Second message in the same thread: already known, no further JOIN.
	dest2, _ := s.resolveDestination("C1", "111.1", "second reply")
	assert.Equal(t, "#t-general-111.1", dest2)
}

func TestJoinEvent_InvalidatesMentionCache(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	chat.users["U1"] = models.User{ID: "U1", Handle: "alice"}
	s := newTestServer(chat)
	_ = attachPipe(t, s)

	s.mentionReMu.Lock()
	s.mentionRe["C1"] = mentionCacheEntry{}
	s.mentionReMu.Unlock()

	s.renderChatEvent(slackclient.JoinEvent{ChannelID: "C1", UserID: "U1"})

	s.mentionReMu.Lock()
	_, ok := s.mentionRe["C1"]
	s.mentionReMu.Unlock()
	assert.False(t, ok)
}
