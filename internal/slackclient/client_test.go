package slackclient

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localslackirc/bridge/internal/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{Token: "xoxb-test"}, models.PersistedStatus{}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestSentBySelf_SweepDropsStaleEntries(t *testing.T) {
	c := newTestClient(t)
	c.sentBySelf["1234.5678"] = time.Now().Add(-11 * time.Second)
	c.sentBySelf["9999.0001"] = time.Now()

	c.addSentBySelf("2222.2222")

	assert.False(t, c.isSentBySelf("1234.5678"), "entries older than 10s must be swept")
	assert.True(t, c.isSentBySelf("9999.0001"))
	assert.True(t, c.isSentBySelf("2222.2222"))
}

func TestSentBySelf_RemovedAfterUse(t *testing.T) {
	c := newTestClient(t)
	c.addSentBySelf("1.1")
	c.removeSentBySelf("1.1")
	assert.False(t, c.isSentBySelf("1.1"))
}

func TestAdvanceLastTimestamp_MonotoneNonDecreasing(t *testing.T) {
	c := newTestClient(t)
	c.advanceLastTimestamp("100.5")
	c.advanceLastTimestamp("50.0")
	c.advanceLastTimestamp("200.1")

	status := c.Status()
	assert.Equal(t, 200.1, status.LastTimestamp)
}

func TestDiffMembers_NoSyntheticJoinsOnFirstSeen(t *testing.T) {
	e := newEntityCache()
	added := e.diffMembers("C1", []string{"U1", "U2"})
	assert.Empty(t, added, "the first snapshot seeds the cache without synthesizing joins")
}

func TestDiffMembers_UnionsAndReportsNewcomers(t *testing.T) {
	e := newEntityCache()
	e.diffMembers("C1", []string{"U1", "U2"})
	added := e.diffMembers("C1", []string{"U1", "U2", "U3"})
	assert.Equal(t, []string{"U3"}, added)
}

func TestStatus_RoundTripsAutoreactionsAndAnnoy(t *testing.T) {
	status := models.PersistedStatus{
		LastTimestamp: 42.0,
		AutoReactions: map[string][]models.AutoReaction{
			"U1": {{Reaction: "+1", Probability: 0.5, Expiration: 0}},
		},
		Annoy: map[string]int64{"U2": 1234},
	}
	c, err := New(Config{Token: "xoxb-test"}, status, zerolog.Nop())
	require.NoError(t, err)

	got := c.Status()
	assert.Equal(t, status.LastTimestamp, got.LastTimestamp)
	assert.Equal(t, status.AutoReactions, got.AutoReactions)
	assert.Equal(t, status.Annoy, got.Annoy)
}

func TestRewriteOwnIMEcho_DifferentPeerRewritesText(t *testing.T) {
	c := newTestClient(t)
	c.cache.putIM(models.IM{ID: "D1", PeerID: "UPEER"})

	msg := models.Message{ChannelID: "D1", UserID: "USELF", Text: "hello"}
	rewritten, ok := c.rewriteOwnIMEcho(msg)
	require.True(t, ok)
	assert.Equal(t, "UPEER", rewritten.UserID)
	assert.Equal(t, "I say: hello", rewritten.Text)
}

func TestRewriteOwnIMEcho_SamePeerLeavesMessageAlone(t *testing.T) {
	c := newTestClient(t)
	c.cache.putIM(models.IM{ID: "D1", PeerID: "USELF"})

	msg := models.Message{ChannelID: "D1", UserID: "USELF", Text: "hello"}
	_, ok := c.rewriteOwnIMEcho(msg)
	assert.False(t, ok)
}

func TestHandleUserTyping_IgnoredWhenNotAnnoyed(t *testing.T) {
	c := newTestClient(t)
	c.handleUserTyping("C1", "UNOTANNOYED")
	select {
	case ev := <-c.events:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestHandleUserTyping_SurfacedWhenAnnoyed(t *testing.T) {
	c := newTestClient(t)
	c.Annoy("U1", time.Now().Add(time.Hour).Unix())
	c.handleUserTyping("C1", "U1")

	select {
	case ev := <-c.events:
		typing, ok := ev.(UserTypingEvent)
		require.True(t, ok)
		assert.Equal(t, "C1", typing.ChannelID)
	default:
		t.Fatal("expected a UserTypingEvent")
	}
}

func TestHandleUserTyping_ExpiredEntryRemoved(t *testing.T) {
	c := newTestClient(t)
	c.Annoy("U1", time.Now().Add(-time.Hour).Unix())
	c.handleUserTyping("C1", "U1")

	c.reactMu.Lock()
	_, still := c.annoy["U1"]
	c.reactMu.Unlock()
	assert.False(t, still, "expired annoy entries are cleared on next touch")

	select {
	case ev := <-c.events:
		expired, ok := ev.(AnnoyExpired)
		require.True(t, ok)
		assert.Equal(t, "U1", expired.UserID)
	default:
		t.Fatal("expected an AnnoyExpired event")
	}
}

func TestUselessTypesAreDroppedUnconditionally(t *testing.T) {
	for _, typ := range []string{"hello", "reaction_added", "file_shared", "dnd_updated_user"} {
		assert.True(t, uselessTypes[typ], typ)
	}
	assert.False(t, uselessTypes["message"])
}
