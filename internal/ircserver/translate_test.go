package ircserver

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localslackirc/bridge/internal/models"
)

func newTestServer(chat *fakeChat) *Server {
	return New(Config{FormattedMaxLines: 10}, chat, zerolog.Nop())
}

func TestOutboundMagic_RewritesYells(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	out := s.outboundMagic("@here please look", "")
	assert.Equal(t, "<!here> please look", out)
}

func TestOutboundMagic_RewritesMentionHandleToID(t *testing.T) {
	chat := newFakeChat()
	chat.users["U1"] = models.User{ID: "U1", Handle: "alice"}
	chat.members["C1"] = []string{"U1"}
	s := newTestServer(chat)

	out := s.outboundMagic("hey @alice check this", "C1")
	assert.Equal(t, "hey <@U1> check this", out)
}

func TestOutboundMagic_DoesNotRewriteInsideURL(t *testing.T) {
	chat := newFakeChat()
	chat.users["U1"] = models.User{ID: "U1", Handle: "alice"}
	chat.members["C1"] = []string{"U1"}
	s := newTestServer(chat)

	out := s.outboundMagic("see https://example.com/@alice/profile", "C1")
	assert.Equal(t, "see https://example.com/@alice/profile", out)
}

func TestRenderInbound_MentionAndChannel(t *testing.T) {
	chat := newFakeChat()
	chat.users["U1"] = models.User{ID: "U1", Handle: "bob"}
	chat.channels["C2"] = models.Channel{ID: "C2", Name: "random"}
	s := newTestServer(chat)

	out := s.renderInbound("ping <@U1> see <#C2>", "alice", "#general")
	assert.Equal(t, "ping bob see #random", out)
}

func TestRenderInbound_MissingChannel(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	out := s.renderInbound("see <#CMISSING>", "alice", "#general")
	assert.Equal(t, "see #ERROR_MISSING_CHANNEL", out)
}

func TestRenderInbound_LinkWithLabelGetsFootnote(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	out := s.renderInbound("See <https://e.com/|docs>.", "alice", "#general")
	require.Contains(t, out, "docs¹")
	require.Contains(t, out, "¹ https://e.com/")
}

func TestRenderInbound_LinkWithoutLabelInline(t *testing.T) {
	chat := newFakeChat()
	s := newTestServer(chat)
	out := s.renderInbound("visit <https://e.com/>", "alice", "#general")
	assert.Equal(t, "visit https://e.com/", out)
}

func TestRenderInbound_YellAttributionOmittedWhenSilenced(t *testing.T) {
	chat := newFakeChat()
	chat.ws = models.Workspace{SelfName: "me"}
	s := newTestServer(chat)
	s.cfg.SilencedYellers = map[string]bool{"alice": true}

	out := s.renderInbound("<!here>", "alice", "#general")
	assert.Equal(t, "yelling:", out)
}

func TestRenderInbound_YellAttributionPresent(t *testing.T) {
	chat := newFakeChat()
	chat.ws = models.Workspace{SelfName: "me"}
	s := newTestServer(chat)

	out := s.renderInbound("<!channel>", "alice", "#general")
	assert.Equal(t, "YELLING LOUDER [me]:", out)
}

func TestResolveTarget_SyntheticThreadName(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	s := newTestServer(chat)

	channelID, ts, ok := s.resolveTarget("#t-general-1234.5678")
	require.True(t, ok)
	assert.Equal(t, "C1", channelID)
	assert.Equal(t, models.Timestamp("1234.5678"), ts)
}

func TestResolveTarget_PlainChannel(t *testing.T) {
	chat := newFakeChat()
	chat.channels["C1"] = models.Channel{ID: "C1", Name: "general"}
	s := newTestServer(chat)

	channelID, ts, ok := s.resolveTarget("#general")
	require.True(t, ok)
	assert.Equal(t, "C1", channelID)
	assert.Equal(t, models.Timestamp(""), ts)
}

func TestResolveTarget_Nick(t *testing.T) {
	chat := newFakeChat()
	chat.users["U1"] = models.User{ID: "U1", Handle: "alice"}
	s := newTestServer(chat)

	channelID, _, ok := s.resolveTarget("alice")
	require.True(t, ok)
	assert.Equal(t, "DU1", channelID)
}
