package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mrz1836/postmark"

	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/platform"
)

// Channel names as used in NOTIFY_CHANNELS.
const (
	ChannelMail  = "mail"
	ChannelInApp = "inapp"
	ChannelChat  = "chat"
)

// Channel delivers a rendered message. Deliver must be safe to call again
// for the same message; delivery is at-least-once.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// mailSender is satisfied by *postmark.Client.
type mailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// MailChannel sends customer mail through Postmark.
type MailChannel struct {
	client  mailSender
	from    string
	replyTo string
}

// NewMailChannel creates a mail channel backed by a Postmark server token.
func NewMailChannel(serverToken, accountToken, from, replyTo string) *MailChannel {
	return newMailChannel(postmark.NewClient(serverToken, accountToken), from, replyTo)
}

func newMailChannel(client mailSender, from, replyTo string) *MailChannel {
	return &MailChannel{client: client, from: from, replyTo: replyTo}
}

func (c *MailChannel) Name() string { return ChannelMail }

func (c *MailChannel) Deliver(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("mail for event %s has no recipient", msg.EventID)
	}
	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:     c.from,
		To:       msg.Recipient,
		ReplyTo:  c.replyTo,
		Subject:  msg.Subject,
		TextBody: msg.Body,
		Tag:      string(msg.Kind),
		Headers:  []postmark.Header{{Name: "X-Event-ID", Value: msg.EventID}},
	})
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

// ChatChannel posts operator messages to a Slack incoming webhook.
type ChatChannel struct {
	webhookURL string
	client     *http.Client
}

func NewChatChannel(webhookURL string, client *http.Client) *ChatChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ChatChannel{webhookURL: webhookURL, client: client}
}

func (c *ChatChannel) Name() string { return ChannelChat }

type chatPayload struct {
	Text string `json:"text"`
}

func (c *ChatChannel) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(chatPayload{
		Text: fmt.Sprintf("[%s] %s (order %s)", msg.Kind, msg.Subject, msg.OrderID),
	})
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}

// notificationInserter is the part of the store the in-app channel needs.
type notificationInserter interface {
	InsertNotification(ctx context.Context, n model.Notification) error
}

// InAppChannel stores the message for the owner's notification inbox. One
// notification exists per event, so redelivery is harmless.
type InAppChannel struct {
	store notificationInserter
}

func NewInAppChannel(s notificationInserter) *InAppChannel {
	return &InAppChannel{store: s}
}

func (c *InAppChannel) Name() string { return ChannelInApp }

func (c *InAppChannel) Deliver(ctx context.Context, msg Message) error {
	if err := c.store.InsertNotification(ctx, model.Notification{
		ID:      platform.NewID(),
		OwnerID: msg.OwnerID,
		OrderID: msg.OrderID,
		EventID: msg.EventID,
		Kind:    msg.Kind,
		Subject: msg.Subject,
		Body:    msg.Body,
	}); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}
