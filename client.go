package kuvert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// NewClient returns a client for a kuvert gateway. The key is the raw
// tenant secret, passed as a bearer credential.
func NewClient(key string, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host: host,
		key:  key,
		http: http.DefaultClient,
	}
}

type Client struct {
	host string
	key  string
	http *http.Client
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var buff io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buff = bytes.NewBuffer(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, buff)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr Error
		if err := json.Unmarshal(respBytes, &apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBytes))
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBytes, out)
}

// Send submits an email through the gateway.
func (c *Client) Send(ctx context.Context, req SendRequest) (Receipt, error) {
	var r Receipt
	err := c.do(ctx, http.MethodPost, "/v1/send", req, &r)
	return r, err
}

// Message fetches a single message by internal or provider id.
func (c *Client) Message(ctx context.Context, id string) (MessageView, error) {
	var m MessageView
	err := c.do(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(id), nil, &m)
	return m, err
}

// Messages lists the tenant's messages newest first. The returned cursor,
// when non-empty, selects strictly older records on the next call.
func (c *Client) Messages(ctx context.Context, limit int, cursor string) (MessageList, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/v1/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var l MessageList
	err := c.do(ctx, http.MethodGet, path, nil, &l)
	return l, err
}

// MessageEvents fetches the delivery event log of a message.
func (c *Client) MessageEvents(ctx context.Context, id string) (EventList, error) {
	var l EventList
	err := c.do(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(id)+"/events", nil, &l)
	return l, err
}
