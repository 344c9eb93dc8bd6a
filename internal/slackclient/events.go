package slackclient

import (
	"encoding/json"

	"github.com/localslackirc/bridge/internal/models"
)

// dispatchTypedEvent decodes a non-useless RTM frame by its "type" field and
// emits the corresponding domain event (spec §4.4). Frames that don't match
// any known shape are dropped rather than surfaced as errors — an unknown
// or malformed event should never stall the pump.
func (c *Client) dispatchTypedEvent(typ string, data []byte) {
	if c.metrics != nil {
		c.metrics.RecordSlackEvent(typ)
	}

	switch typ {
	case "channel_topic", "group_topic":
		var ev struct {
			Channel string `json:"channel"`
			Topic   string `json:"topic"`
		}
		if json.Unmarshal(data, &ev) == nil {
			c.emit(TopicChange{ChannelID: ev.Channel, Topic: ev.Topic})
		}

	case "channel_joined", "group_joined":
		var ev struct {
			Channel wireChannel `json:"channel"`
		}
		if json.Unmarshal(data, &ev) == nil {
			m := ev.Channel.toModel()
			c.cache.putChannel(m)
			c.emit(GroupJoined{Channel: m})
		}

	case "member_joined_channel":
		var ev struct {
			Channel string `json:"channel"`
			User    string `json:"user"`
		}
		if json.Unmarshal(data, &ev) == nil {
			c.emit(JoinEvent{ChannelID: ev.Channel, UserID: ev.User})
		}

	case "member_left_channel":
		var ev struct {
			Channel string `json:"channel"`
			User    string `json:"user"`
		}
		if json.Unmarshal(data, &ev) == nil {
			c.emit(LeaveEvent{ChannelID: ev.Channel, UserID: ev.User})
		}

	case "user_typing":
		var ev struct {
			Channel string `json:"channel"`
			User    string `json:"user"`
		}
		if json.Unmarshal(data, &ev) == nil {
			c.handleUserTyping(ev.Channel, ev.User)
		}

	case "user_change":
		var ev struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		if json.Unmarshal(data, &ev) == nil {
			c.cache.invalidateUser(ev.User.ID)
			c.emit(UserChange{UserID: ev.User.ID})
		}

	case "message":
		c.dispatchMessage(data)
	}
}

func (c *Client) dispatchMessage(data []byte) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}

	c.advanceLastTimestamp(models.Timestamp(m.Ts))
	c.fireAutoreactions(m.User, m.Channel)

	switch m.Subtype {
	case "message_changed":
		if m.Message == nil || m.Previous == nil {
			return
		}
		c.emit(models.MessageEdit{ChannelID: m.Channel, Previous: m.Previous.toNoChan(), Current: m.Message.toNoChan()})

	case "message_deleted":
		if m.Previous == nil {
			return
		}
		c.emit(models.MessageDelete{ChannelID: m.Channel, Previous: m.Previous.toNoChan()})

	case "bot_message":
		c.emit(m.toBot())

	case "me_message":
		c.emit(models.ActionMessage{Message: m.toMessage()})

	case "":
		msg := m.toMessage()
		if rewritten, ok := c.rewriteOwnIMEcho(msg); ok {
			msg = rewritten
		}
		c.emit(msg)
	}
}

// rewriteOwnIMEcho implements the "I say:" rule: a plain message delivered
// in an IM whose peer differs from the sender is the self-user's own
// message arriving from another client session. Surface it as if the peer
// had relayed it, so it's visible without looking like a local echo.
func (c *Client) rewriteOwnIMEcho(msg models.Message) (models.Message, bool) {
	im, err := c.GetIM(msg.ChannelID)
	if err != nil {
		return msg, false
	}
	if im.PeerID == "" || im.PeerID == msg.UserID {
		return msg, false
	}
	msg.UserID = im.PeerID
	msg.Text = "I say: " + msg.Text
	return msg, true
}
