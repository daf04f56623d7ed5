package telegram

import (
	"context"
	"fmt"
	"time"

	"mt5-signal-relay/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const apiBaseURL = "https://api.telegram.org"

// Event is one inbound chat event from a configured source channel.
type Event struct {
	Edited    bool
	MessageID int64
	ChatID    int64
	ChatName  string
	ReplyToID int64 // 0 when the message is not a reply
	Text      string
	Timestamp time.Time
}

// EventHandler consumes inbound chat events. Handlers are invoked one at a
// time per client, so intake for an account is effectively serialized.
type EventHandler func(event Event)

// Forwarder is the side of the transport the orchestrator needs: copying a
// signal into its destination channel for operator visibility.
type Forwarder interface {
	ForwardMessage(toChatID, fromChatID, messageID int64) (int64, error)
}

// Client is a long-polling Telegram client scoped to a set of source
// channels. It delivers new and edited messages to an EventHandler and
// exposes message forwarding.
type Client struct {
	client         *resty.Client
	logger         *zap.Logger
	sourceChats    map[int64]struct{}
	pollTimeout    int
	reconnectDelay time.Duration
	offset         int64
}

var _ Forwarder = (*Client)(nil)

// NewClient creates a Telegram client from the transport configuration.
func NewClient(cfg *config.Telegram, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", apiBaseURL, cfg.BotToken))

	sources := make(map[int64]struct{}, len(cfg.SourceChats))
	for _, id := range cfg.SourceChats {
		sources[id] = struct{}{}
	}

	return &Client{
		client:         client,
		logger:         logger.Named("telegram"),
		sourceChats:    sources,
		pollTimeout:    cfg.PollTimeout,
		reconnectDelay: time.Duration(cfg.ReconnectDelay) * time.Second,
	}
}

// update mirrors the subset of the Bot API update object we consume.
type update struct {
	UpdateID          int64    `json:"update_id"`
	Message           *message `json:"message"`
	EditedMessage     *message `json:"edited_message"`
	ChannelPost       *message `json:"channel_post"`
	EditedChannelPost *message `json:"edited_channel_post"`
}

type message struct {
	MessageID      int64    `json:"message_id"`
	Chat           chat     `json:"chat"`
	ReplyToMessage *message `json:"reply_to_message"`
	Text           string   `json:"text"`
	Date           int64    `json:"date"`
}

type chat struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

type forwardResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Run polls for updates until the context is cancelled, delivering events to
// the handler. Transport errors trigger a fixed-delay reconnect; updates
// missed while disconnected are not replayed.
func (c *Client) Run(ctx context.Context, handler EventHandler) {
	c.logger.Info("Starting Telegram intake loop",
		zap.Int("source_chats", len(c.sourceChats)),
		zap.Int("poll_timeout", c.pollTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping Telegram intake loop")
			return
		default:
		}

		updates, err := c.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Transport error, reconnecting...",
				zap.Duration("delay", c.reconnectDelay),
				zap.Error(err),
			)
			select {
			case <-time.After(c.reconnectDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, u := range updates {
			c.offset = u.UpdateID + 1
			event, ok := c.toEvent(u)
			if !ok {
				continue
			}
			handler(event)
		}
	}
}

func (c *Client) getUpdates(ctx context.Context) ([]update, error) {
	var result updatesResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("offset", fmt.Sprintf("%d", c.offset)).
		SetQueryParam("timeout", fmt.Sprintf("%d", c.pollTimeout)).
		SetResult(&result).
		Get("/getUpdates")
	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}
	if resp.IsError() || !result.OK {
		return nil, fmt.Errorf("getUpdates failed with status %s: %s", resp.Status(), resp.String())
	}

	return result.Result, nil
}

// toEvent converts an update into an Event, dropping anything that is not a
// text message from a configured source chat.
func (c *Client) toEvent(u update) (Event, bool) {
	var msg *message
	var edited bool

	switch {
	case u.Message != nil:
		msg = u.Message
	case u.ChannelPost != nil:
		msg = u.ChannelPost
	case u.EditedMessage != nil:
		msg, edited = u.EditedMessage, true
	case u.EditedChannelPost != nil:
		msg, edited = u.EditedChannelPost, true
	default:
		return Event{}, false
	}

	if msg.Text == "" {
		return Event{}, false
	}
	if _, ok := c.sourceChats[msg.Chat.ID]; !ok {
		return Event{}, false
	}

	event := Event{
		Edited:    edited,
		MessageID: msg.MessageID,
		ChatID:    msg.Chat.ID,
		ChatName:  msg.Chat.Title,
		Text:      msg.Text,
		Timestamp: time.Unix(msg.Date, 0),
	}
	if msg.ReplyToMessage != nil {
		event.ReplyToID = msg.ReplyToMessage.MessageID
	}
	return event, true
}

// ForwardMessage copies a message to the destination chat and returns the
// forwarded message id.
func (c *Client) ForwardMessage(toChatID, fromChatID, messageID int64) (int64, error) {
	var result forwardResponse

	resp, err := c.client.R().
		SetQueryParam("chat_id", fmt.Sprintf("%d", toChatID)).
		SetQueryParam("from_chat_id", fmt.Sprintf("%d", fromChatID)).
		SetQueryParam("message_id", fmt.Sprintf("%d", messageID)).
		SetResult(&result).
		Post("/forwardMessage")
	if err != nil {
		return 0, fmt.Errorf("failed to forward message %d: %w", messageID, err)
	}
	if resp.IsError() || !result.OK {
		return 0, fmt.Errorf("forwardMessage failed with status %s: %s", resp.Status(), resp.String())
	}

	return result.Result.MessageID, nil
}
