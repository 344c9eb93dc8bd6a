package slackclient

import (
	"math/rand"
	"time"

	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/transport"
)

// fireAutoreactions is called for every incoming Message. Each non-expired
// entry in userID's autoreaction list fires with its configured probability;
// reactions that fail to post are dropped (spec §4.4).
func (c *Client) fireAutoreactions(userID, channelID string) {
	if userID == "" {
		return
	}
	c.reactMu.Lock()
	entries := c.autoreactions[userID]
	c.reactMu.Unlock()
	if len(entries) == 0 {
		return
	}

	now := time.Now().Unix()
	var kept []models.AutoReaction
	for _, r := range entries {
		if r.Expiration != 0 && r.Expiration <= now {
			continue // expired, drop on touch
		}
		if rand.Float64() >= r.Probability {
			kept = append(kept, r)
			continue
		}
		if err := c.addReaction(channelID, r.Reaction); err != nil {
			c.log.Debug().Err(err).Str("reaction", r.Reaction).Msg("autoreaction failed, dropping")
			continue
		}
		kept = append(kept, r)
	}

	c.reactMu.Lock()
	if len(kept) == 0 {
		delete(c.autoreactions, userID)
	} else {
		c.autoreactions[userID] = kept
	}
	c.reactMu.Unlock()
}

func (c *Client) addReaction(channelID, name string) error {
	fields := map[string]transport.Field{
		"channel": str(channelID),
		"name":    str(name),
	}
	return c.api.call("main", "reactions.add", fields, nil)
}

// SetAutoReaction registers a new autoreaction entry for userID.
func (c *Client) SetAutoReaction(userID string, r models.AutoReaction) {
	c.reactMu.Lock()
	defer c.reactMu.Unlock()
	c.autoreactions[userID] = append(c.autoreactions[userID], r)
}

// Annoy registers userID in the annoy table until expiration (unix seconds).
func (c *Client) Annoy(userID string, expiration int64) {
	c.reactMu.Lock()
	defer c.reactMu.Unlock()
	c.annoy[userID] = expiration
}

// handleUserTyping consults the annoy table and, if userID is present and
// unexpired, replies with a typing event to the same channel and suppresses
// any further IRC-visible output (spec §4.4). An entry found expired is
// cleared and reported once via AnnoyExpired so the IRC client learns the
// annoyance ended; nothing happens for a userID that was never annoyed.
func (c *Client) handleUserTyping(channelID, userID string) {
	c.reactMu.Lock()
	exp, ok := c.annoy[userID]
	expired := ok && exp <= time.Now().Unix()
	if expired {
		delete(c.annoy, userID)
	}
	c.reactMu.Unlock()

	if expired {
		c.emit(AnnoyExpired{UserID: userID})
		return
	}
	if !ok {
		return
	}

	c.emit(UserTypingEvent{ChannelID: channelID, UserID: userID})
	_ = c.writeJSON(map[string]any{"id": c.nextID(), "type": "typing", "channel": channelID})
}
