package slackclient

import (
	"github.com/slack-go/slack"

	"github.com/localslackirc/bridge/internal/models"
)

// wireChannel mirrors the subset of conversations.info/list fields the
// bridge needs; kept separate from models.Channel so the wire shape can
// drift from the domain shape without touching callers.
type wireChannel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsChannel   bool   `json:"is_channel"`
	IsGroup     bool   `json:"is_group"`
	IsMPIM      bool   `json:"is_mpim"`
	IsIM        bool   `json:"is_im"`
	IsMember    bool   `json:"is_member"`
	NumMembers  int    `json:"num_members"`
	Topic       struct {
		Value string `json:"value"`
	} `json:"topic"`
	Purpose struct {
		Value string `json:"value"`
	} `json:"purpose"`
	Latest struct {
		Ts string `json:"ts"`
	} `json:"latest"`
	User string `json:"user"` // IM peer, when IsIM
}

func (w wireChannel) toModel() models.Channel {
	return models.Channel{
		ID:          w.ID,
		Name:        w.Name,
		Topic:       w.Topic.Value,
		Purpose:     w.Purpose.Value,
		MemberCount: w.NumMembers,
		LatestTS:    models.Timestamp(w.Latest.Ts),
		Flags: models.ChannelFlags{
			IsMember:  w.IsMember,
			IsChannel: w.IsChannel,
			IsGroup:   w.IsGroup,
			IsMPIM:    w.IsMPIM,
		},
	}
}

// wireMessage mirrors a conversations.history/replies entry, and the RTM
// "message" event payload.
type wireMessage struct {
	Type        string           `json:"type"`
	Subtype     string           `json:"subtype"`
	Channel     string           `json:"channel"`
	User        string           `json:"user"`
	Text        string           `json:"text"`
	Ts          string           `json:"ts"`
	ThreadTs    string           `json:"thread_ts"`
	BotID       string           `json:"bot_id"`
	Username    string           `json:"username"`
	Attachments []slack.Attachment `json:"attachments"`
	Files       []wireFile         `json:"files"`

	// Edit/delete subtypes nest the previous/current message.
	Message  *wireMessage `json:"message,omitempty"`
	Previous *wireMessage `json:"previous_message,omitempty"`
}

type wireFile struct {
	ID       string `json:"id"`
	URL      string `json:"url_private"`
	Size     int64  `json:"size"`
	User     string `json:"user"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	Mimetype string `json:"mimetype"`
}

func (f wireFile) toModel() models.File {
	return models.File{ID: f.ID, URL: f.URL, Size: f.Size, Uploader: f.User, Name: f.Name, Title: f.Title, Mimetype: f.Mimetype}
}

func (m wireMessage) toFiles() []models.File {
	if len(m.Files) == 0 {
		return nil
	}
	out := make([]models.File, 0, len(m.Files))
	for _, f := range m.Files {
		out = append(out, f.toModel())
	}
	return out
}

func (m wireMessage) toMessage() models.Message {
	return models.Message{
		ChannelID: m.Channel,
		UserID:    m.User,
		Text:      m.Text,
		TS:        models.Timestamp(m.Ts),
		ThreadTS:  models.Timestamp(m.ThreadTs),
		Files:     m.toFiles(),
	}
}

func (m wireMessage) toBot() models.MessageBot {
	attachments := make([]models.BotAttachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, models.BotAttachment{Text: a.Text, Fallback: a.Fallback})
	}
	return models.MessageBot{Message: m.toMessage(), Username: m.Username, Attachments: attachments}
}

func (m wireMessage) toNoChan() models.NoChanMessage {
	return models.NoChanMessage{UserID: m.User, Text: m.Text, TS: models.Timestamp(m.Ts), ThreadTS: models.Timestamp(m.ThreadTs)}
}
