package slackclient

import (
	"time"

	"github.com/localslackirc/bridge/internal/models"
	"github.com/localslackirc/bridge/internal/transport"
)

const historyReplayWindow = 4 * 24 * time.Hour

// replayHistory runs on every (re)connect when a non-zero last_timestamp was
// persisted: it pages through every joined channel and IM since then and
// re-emits what was missed, splicing thread replies into chronological
// order (spec §4.4).
func (c *Client) replayHistory() {
	c.lastTsMu.Lock()
	last := c.lastTimestamp
	c.lastTsMu.Unlock()
	if last <= 0 {
		return
	}

	oldest := last
	if floor := float64(time.Now().Add(-historyReplayWindow).Unix()); floor > oldest {
		oldest = floor
	}

	var targets []string
	for _, ch := range c.JoinedChannels() {
		targets = append(targets, ch.ID)
	}
	c.refreshIMs()
	targets = append(targets, c.cache.imIDs()...)

	for _, channelID := range targets {
		c.replayChannel(channelID, last, oldest)
	}
}

func (c *Client) replayChannel(channelID string, lastTimestamp, oldest float64) {
	var pending []pendingMsg

	cursor := ""
	for {
		fields := map[string]transport.Field{
			"channel": str(channelID),
			"oldest":  floatField(oldest),
			"limit":   intField(200),
		}
		if cursor != "" {
			fields["cursor"] = str(cursor)
		}

		var page struct {
			Messages []wireMessage `json:"messages"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.api.call("main", "conversations.history", fields, &page); err != nil {
			c.log.Warn().Err(err).Str("channel", channelID).Msg("history replay stopped early")
			return
		}

		for _, m := range page.Messages {
			if m.Ts == "" || models.Timestamp(m.Ts).Float() == lastTimestamp {
				continue
			}
			c.advanceLastTimestamp(models.Timestamp(m.Ts))

			if m.ThreadTs != "" && m.ThreadTs == m.Ts {
				pending = append(pending, pendingMsg{msg: m})
				pending = append(pending, c.fetchThreadReplies(channelID, m.Ts)...)
				continue
			}
			pending = append(pending, pendingMsg{msg: m})
		}

		if page.Metadata.NextCursor == "" || page.Metadata.NextCursor == cursor {
			break
		}
		cursor = page.Metadata.NextCursor
	}

	for _, p := range pending {
		if p.msg.Subtype == "bot_message" {
			c.emit(p.msg.toBot())
		} else {
			c.emit(p.msg.toMessage())
		}
	}
}

type pendingMsg struct {
	msg wireMessage
}

// fetchThreadReplies fetches the thread's replies (oldest first already, per
// conversations.replies) and splices them into the pending list so replies
// replay in the order they were originally posted, immediately after the
// root message.
func (c *Client) fetchThreadReplies(channelID, rootTS string) []pendingMsg {
	var page struct {
		Messages []wireMessage `json:"messages"`
	}
	fields := map[string]transport.Field{"channel": str(channelID), "ts": str(rootTS)}
	if err := c.api.call("main", "conversations.replies", fields, &page); err != nil {
		c.log.Warn().Err(err).Str("channel", channelID).Msg("thread replay stopped early")
		return nil
	}

	var out []pendingMsg
	for _, m := range page.Messages {
		if m.Ts == rootTS {
			continue // the root was already queued by the caller
		}
		out = append(out, pendingMsg{msg: m})
	}
	return out
}
