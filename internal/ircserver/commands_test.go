package ircserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localslackirc/bridge/internal/models"
)

func TestDispatchLine_PrivmsgBeforeRegistrationIsIgnored(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	_ = attachPipe(t, s)

	err := s.dispatchLine("PRIVMSG #general :hello")
	require.NoError(t, err)
	assert.Empty(t, chat.sent)
}

func TestDispatchLine_RegistrationCompletesAndDrainsHeldEvents(t *testing.T) {
	chat := newFakeChat()
	chat.ws = models.Workspace{SelfName: "alice", TeamName: "Test Team"}
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	chat.users["U1"] = models.User{ID: "U1", Handle: "bob"}
	s := newTestServer(chat)
	scanner := attachPipe(t, s)

	// A chat event arrives before registration completes; it must be held,
	// not rendered immediately.
	s.held.push(models.Message{ChannelID: "C1", UserID: "U1", Text: "queued while unregistered"})

	require.NoError(t, s.dispatchLine("NICK alice"))
	require.NoError(t, s.dispatchLine("USER alice 0 * :Alice"))

	// Drain every welcome-sequence line until the held PRIVMSG shows up.
	var sawHeldMessage bool
	for i := 0; i < 20; i++ {
		line := readLine(t, scanner)
		if strings.Contains(line, "PRIVMSG") && strings.Contains(line, "queued while unregistered") {
			sawHeldMessage = true
			break
		}
	}
	assert.True(t, sawHeldMessage, "expected the held event to drain after registration completed")
	assert.True(t, s.isRegistered())
}

func TestCmdJoin_UnknownChannelYieldsNoSuchChannel(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	s.registered = true
	scanner := attachPipe(t, s)

	require.NoError(t, s.dispatchLine("JOIN #nosuch"))
	line := readLine(t, scanner)
	assert.Contains(t, line, "403")
}

func TestCmdJoin_KnownChannelSendsJoinBlock(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general", Flags: models.ChannelFlags{IsMember: true}}
	s := newTestServer(chat)
	s.registered = true
	scanner := attachPipe(t, s)

	require.NoError(t, s.dispatchLine("JOIN #general"))
	line := readLine(t, scanner)
	assert.Contains(t, line, "JOIN #general")
}

func TestCmdPart_ForgetsKnownThread(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	s.registered = true
	_ = attachPipe(t, s)

	s.rememberThread("#t-general-1.1", models.MessageThread{})
	require.NoError(t, s.dispatchLine("PART #t-general-1.1"))
	assert.False(t, s.knowsThread("#t-general-1.1"))
	assert.True(t, s.isParted("#t-general-1.1"))
}

func TestCmdPrivmsg_SendsOutboundMagicText(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	s := newTestServer(chat)
	s.registered = true
	_ = attachPipe(t, s)

	require.NoError(t, s.dispatchLine("PRIVMSG #general :@here look at this"))
	require.Len(t, chat.sent, 1)
	assert.Equal(t, "C1", chat.sent[0].channel)
	assert.Equal(t, "<!here> look at this", chat.sent[0].text)
	assert.False(t, chat.sent[0].action)
}

func TestCmdPrivmsg_ActionIsUnwrapped(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	s := newTestServer(chat)
	s.registered = true
	_ = attachPipe(t, s)

	require.NoError(t, s.dispatchLine("PRIVMSG #general :\x01ACTION waves\x01"))
	require.Len(t, chat.sent, 1)
	assert.Equal(t, "waves", chat.sent[0].text)
	assert.True(t, chat.sent[0].action)
}

func TestCmdWhois_UnknownNickRepliesNoSuchNick(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	s.registered = true
	scanner := attachPipe(t, s)

	require.NoError(t, s.dispatchLine("WHOIS ghost"))
	line := readLine(t, scanner)
	assert.Contains(t, line, "401")
}

func TestCmdTopic_SetsAndConfirms(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	s := newTestServer(chat)
	s.registered = true
	scanner := attachPipe(t, s)

	require.NoError(t, s.dispatchLine("TOPIC #general :new topic here"))
	line := readLine(t, scanner)
	assert.Contains(t, line, "332")
	assert.Equal(t, "new topic here", chat.topics["C1"])
}

func TestResolveTarget_UnknownNameFails(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	_, _, ok := s.resolveTarget("#nosuch")
	assert.False(t, ok)
}
