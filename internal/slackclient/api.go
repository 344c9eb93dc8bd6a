// Package slackclient implements the chat-side session of the bridge
// (spec §4.4): login, the RTM event pump, entity caches, history replay,
// autoreactions/annoy side-tables, and status persistence.
package slackclient

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/localslackirc/bridge/internal/bridgeerr"
	"github.com/localslackirc/bridge/internal/transport"
)

const apiBase = "https://slack.com/api/"

// apiCaller issues authenticated POSTs to the Slack Web API and decodes the
// {ok, error, ...} envelope every method shares.
type apiCaller struct {
	http  *transport.Client
	token string

	// cookie is required alongside the token when the token has the
	// xoxc- browser-session prefix (spec §6).
	cookie string
}

func newAPICaller(token, cookie string) (*apiCaller, error) {
	c, err := transport.New(apiBase)
	if err != nil {
		return nil, err
	}
	return &apiCaller{http: c, token: token, cookie: cookie}, nil
}

func (a *apiCaller) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + a.token}
	if a.cookie != "" {
		h["Cookie"] = a.cookie
	}
	return h
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// call posts method with fields (task keys the connection pool, letting the
// RTM pump and an on-demand call like files.upload use independent sockets)
// and decodes the response into out, returning a ResponseError when ok=false.
func (a *apiCaller) call(task, method string, fields map[string]transport.Field, out any) error {
	resp, err := a.http.Post(task, method, a.headers(), fields)
	if err != nil {
		return err
	}
	if resp.Status != 200 {
		return &bridgeerr.APIError{Service: "slack", StatusCode: resp.Status, Message: string(resp.Body)}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("slack: decode %s response: %w", method, err)
	}
	if !env.OK {
		return &bridgeerr.ResponseError{Method: method, Slack: env.Error}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("slack: decode %s payload: %w", method, err)
		}
	}
	return nil
}

func str(v string) transport.Field      { return transport.Field{Value: v} }
func boolField(v bool) transport.Field  { return transport.Field{Value: strconv.FormatBool(v)} }
func intField(v int) transport.Field    { return transport.Field{Value: strconv.Itoa(v)} }
func floatField(v float64) transport.Field {
	return transport.Field{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}
