// Package slack implements the channel provider contract against the
// Slack Web API over a transport adapter.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-channel-broker/core"
	"github.com/goliatone/go-channel-broker/transport"
	goerrors "github.com/goliatone/go-errors"
)

const DefaultBaseURL = "https://slack.com/api"

const defaultRequestTimeout = 15 * time.Second

type Client struct {
	baseURL   string
	transport core.TransportAdapter
	timeout   time.Duration
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

func WithTransport(adapter core.TransportAdapter) Option {
	return func(c *Client) {
		if adapter != nil {
			c.transport = adapter
		}
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:   DefaultBaseURL,
		transport: transport.NewRESTAdapter(nil),
		timeout:   defaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

type channelPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsArchived bool   `json:"is_archived"`
	IsPrivate  bool   `json:"is_private"`
	Topic      struct {
		Value string `json:"value"`
	} `json:"topic"`
	Purpose struct {
		Value string `json:"value"`
	} `json:"purpose"`
}

func (p channelPayload) toRemote() core.RemoteChannel {
	return core.RemoteChannel{
		ID:         p.ID,
		Name:       p.Name,
		IsArchived: p.IsArchived,
		Topic:      p.Topic.Value,
		Purpose:    p.Purpose.Value,
	}
}

type apiEnvelope struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error"`
	Channel  *channelPayload  `json:"channel"`
	Channels []channelPayload `json:"channels"`
	UserID   string           `json:"user_id"`
	User     string           `json:"user"`
	TeamID   string           `json:"team_id"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (c *Client) IdentityCheck(ctx context.Context, token string) (core.UserIdentity, error) {
	envelope, err := c.call(ctx, token, "auth.test", nil)
	if err != nil {
		return core.UserIdentity{}, err
	}
	return core.UserIdentity{
		UserID:   envelope.UserID,
		UserName: envelope.User,
		TeamID:   envelope.TeamID,
	}, nil
}

func (c *Client) GetChannel(ctx context.Context, token string, channelID string, private bool) (core.RemoteChannel, error) {
	envelope, err := c.call(ctx, token, "conversations.info", map[string]any{
		"channel": channelID,
	})
	if err != nil {
		return core.RemoteChannel{}, err
	}
	if envelope.Channel == nil {
		return core.RemoteChannel{}, slackProtocolError("conversations.info", "missing channel payload")
	}
	channel := *envelope.Channel
	if channel.IsPrivate != private {
		return core.RemoteChannel{}, fmt.Errorf("%w: %s", core.ErrChannelNotFound, channelID)
	}
	return channel.toRemote(), nil
}

func (c *Client) CreateChannel(ctx context.Context, token string, name string) (core.RemoteChannel, error) {
	envelope, err := c.call(ctx, token, "conversations.create", map[string]any{
		"name": core.NormalizeChannelName(name),
	})
	if err != nil {
		return core.RemoteChannel{}, err
	}
	if envelope.Channel == nil {
		return core.RemoteChannel{}, slackProtocolError("conversations.create", "missing channel payload")
	}
	return envelope.Channel.toRemote(), nil
}

func (c *Client) SetTopic(ctx context.Context, token string, channelID string, topic string) error {
	_, err := c.call(ctx, token, "conversations.setTopic", map[string]any{
		"channel": channelID,
		"topic":   topic,
	})
	return err
}

func (c *Client) SetPurpose(ctx context.Context, token string, channelID string, purpose string) error {
	_, err := c.call(ctx, token, "conversations.setPurpose", map[string]any{
		"channel": channelID,
		"purpose": purpose,
	})
	return err
}

func (c *Client) Unarchive(ctx context.Context, token string, channelID string) error {
	_, err := c.call(ctx, token, "conversations.unarchive", map[string]any{
		"channel": channelID,
	})
	// Unarchiving an active channel reads as success.
	if err != nil && strings.Contains(err.Error(), "not_archived") {
		return nil
	}
	return err
}

func (c *Client) ListChannels(ctx context.Context, token string, private bool) ([]core.RemoteChannel, error) {
	channelTypes := "public_channel"
	if private {
		channelTypes = "private_channel"
	}

	var channels []core.RemoteChannel
	cursor := ""
	for {
		params := map[string]any{
			"types":            channelTypes,
			"exclude_archived": false,
			"limit":            200,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}
		envelope, err := c.call(ctx, token, "conversations.list", params)
		if err != nil {
			return nil, err
		}
		for _, channel := range envelope.Channels {
			channels = append(channels, channel.toRemote())
		}
		cursor = strings.TrimSpace(envelope.Metadata.NextCursor)
		if cursor == "" {
			return channels, nil
		}
	}
}

func (c *Client) PostMessage(ctx context.Context, token string, msg core.ChannelMessage) error {
	params := map[string]any{
		"channel": msg.Channel,
		"text":    msg.Text,
	}
	if len(msg.Attachments) > 0 {
		params["attachments"] = msg.Attachments
	}
	_, err := c.call(ctx, token, "chat.postMessage", params)
	return err
}

func (c *Client) call(ctx context.Context, token string, method string, params map[string]any) (apiEnvelope, error) {
	if c == nil || c.transport == nil {
		return apiEnvelope{}, goerrors.New(
			"slack: client transport is not configured",
			goerrors.CategoryInternal,
		).WithCode(http.StatusInternalServerError).WithTextCode(core.BrokerErrorInternal)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return apiEnvelope{}, fmt.Errorf("%w: api token is required", core.ErrUnauthorized)
	}

	body := []byte("{}")
	if len(params) > 0 {
		encoded, err := json.Marshal(params)
		if err != nil {
			return apiEnvelope{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "slack: encode request").
				WithCode(http.StatusBadRequest).
				WithTextCode(core.BrokerErrorBadInput)
		}
		body = encoded
	}

	res, err := c.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    c.baseURL + "/" + method,
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
			"Content-Type":  "application/json; charset=utf-8",
		},
		Body:    body,
		Timeout: c.timeout,
	})
	if err != nil {
		return apiEnvelope{}, err
	}

	if res.StatusCode == http.StatusTooManyRequests {
		return apiEnvelope{}, fmt.Errorf("%w: %s rate limited", core.ErrOperationInProgress, method)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return apiEnvelope{}, fmt.Errorf("%w: %s returned status %d", core.ErrOperationInProgress, method, res.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return apiEnvelope{}, slackProtocolError(method, "undecodable response body")
	}
	if !envelope.OK {
		return apiEnvelope{}, mapSlackError(method, envelope.Error)
	}
	return envelope, nil
}

// mapSlackError translates Slack's string error codes into the sentinel
// errors the resolver and lifecycle branch on.
func mapSlackError(method string, code string) error {
	code = strings.TrimSpace(code)
	switch code {
	case "name_taken":
		return fmt.Errorf("%w: %s", core.ErrChannelNameTaken, method)
	case "channel_not_found", "is_archived_required":
		return fmt.Errorf("%w: %s", core.ErrChannelNotFound, method)
	case "invalid_auth", "not_authed", "token_revoked", "account_inactive":
		return fmt.Errorf("%w: %s (%s)", core.ErrUnauthorized, code, method)
	case "ratelimited", "rate_limited", "operation_in_progress":
		return fmt.Errorf("%w: %s (%s)", core.ErrOperationInProgress, code, method)
	case "restricted_action", "method_not_supported_for_channel_type":
		return fmt.Errorf("%w: %s (%s)", core.ErrChannelNotAccessible, code, method)
	case "":
		return slackProtocolError(method, "error response without a code")
	default:
		return goerrors.New(
			fmt.Sprintf("slack: %s failed: %s", method, code),
			goerrors.CategoryExternal,
		).WithCode(http.StatusBadRequest).
			WithTextCode(core.BrokerErrorUpstreamFailed).
			WithMetadata(map[string]any{"method": method, "slack_error": code})
	}
}

func slackProtocolError(method string, detail string) error {
	return goerrors.New(
		fmt.Sprintf("slack: %s returned an unexpected response: %s", method, detail),
		goerrors.CategoryExternal,
	).WithCode(http.StatusBadGateway).
		WithTextCode(core.BrokerErrorUpstreamFailed).
		WithMetadata(map[string]any{"method": method})
}

var _ core.ChannelAPI = (*Client)(nil)
