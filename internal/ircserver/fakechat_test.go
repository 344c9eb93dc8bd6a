package ircserver

import (
	"io"

	"github.com/localslackirc/bridge/internal/models"
)

// fakeChat is a minimal in-memory ChatClient stub for ircserver tests.
type fakeChat struct {
	ws       models.Workspace
	users    map[string]models.User
	channels map[string]models.Channel
	members  map[string][]string
	threads  map[string]models.MessageThread
	ims      map[string]models.IM

	events chan any
	sent   []sentCall
	topics map[string]string
}

type sentCall struct {
	channel  string
	text     string
	action   bool
	threadTS models.Timestamp
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		users:    make(map[string]models.User),
		channels: make(map[string]models.Channel),
		members:  make(map[string][]string),
		threads:  make(map[string]models.MessageThread),
		ims:      make(map[string]models.IM),
		events:   make(chan any, 64),
		topics:   make(map[string]string),
	}
}

func (f *fakeChat) Events() <-chan any          { return f.events }
func (f *fakeChat) Workspace() models.Workspace { return f.ws }

func (f *fakeChat) GetUser(id string) (models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return models.User{}, errNotFound("user")
}

func (f *fakeChat) UserByHandle(handle string) (models.User, bool) {
	for _, u := range f.users {
		if u.Handle == handle {
			return u, true
		}
	}
	return models.User{}, false
}

func (f *fakeChat) ListUsers() []models.User {
	var out []models.User
	for _, u := range f.users {
		out = append(out, u)
	}
	return out
}

func (f *fakeChat) GetChannel(id string) (models.Channel, error) {
	if c, ok := f.channels[id]; ok {
		return c, nil
	}
	return models.Channel{}, errNotFound("channel")
}

func (f *fakeChat) GetIM(id string) (models.IM, error) {
	if im, ok := f.ims[id]; ok {
		return im, nil
	}
	return models.IM{}, errNotFound("im")
}

func (f *fakeChat) OpenIM(userID string) (models.IM, error) {
	for _, im := range f.ims {
		if im.PeerID == userID {
			return im, nil
		}
	}
	im := models.IM{ID: "D" + userID, PeerID: userID}
	f.ims[im.ID] = im
	return im, nil
}

func (f *fakeChat) Channels() []models.Channel {
	var out []models.Channel
	for _, c := range f.channels {
		out = append(out, c)
	}
	return out
}

func (f *fakeChat) JoinedChannels() []models.Channel { return f.Channels() }

func (f *fakeChat) GetMembers(channelID string) []string { return f.members[channelID] }

func (f *fakeChat) GetThread(channelID string, threadTS models.Timestamp) (models.MessageThread, error) {
	key := channelID + ":" + string(threadTS)
	if t, ok := f.threads[key]; ok {
		return t, nil
	}
	return models.MessageThread{}, errNotFound("thread")
}

func (f *fakeChat) SendMessage(channel, text string, action bool, threadTS models.Timestamp, reSendToIRC bool) (models.Timestamp, error) {
	f.sent = append(f.sent, sentCall{channel: channel, text: text, action: action, threadTS: threadTS})
	return "100.1", nil
}

func (f *fakeChat) SendFile(channel string, body io.Reader, filename string, threadTS models.Timestamp) error {
	return nil
}

func (f *fakeChat) SetTopic(channel, topic string) error {
	f.topics[channel] = topic
	return nil
}

func (f *fakeChat) Join(channel string) error            { return nil }
func (f *fakeChat) Kick(channel, userID string) error     { return nil }
func (f *fakeChat) Invite(channel, userID string) error   { return nil }
func (f *fakeChat) SetPresence(away bool) error           { return nil }
func (f *fakeChat) Annoy(userID string, expiration int64) {}

type notFoundErr string

func errNotFound(kind string) error { return notFoundErr(kind) }
func (e notFoundErr) Error() string { return "not found: " + string(e) }
