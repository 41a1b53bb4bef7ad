package fcm

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"github.com/mithileshchellappan/pushrelay/internal/delivery"
)

// Messenger is the subset of *messaging.Client the gateway uses.
type Messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client delivers through Firebase Cloud Messaging.
type Client struct {
	messenger Messenger
}

func NewClient(m Messenger) *Client {
	return &Client{messenger: m}
}

func (c *Client) Send(ctx context.Context, token string, msg delivery.Message) (string, error) {
	message := &messaging.Message{
		Token:        token,
		Notification: notification(msg),
		Data:         msg.Data,
		Android:      android(msg),
	}

	id, err := c.messenger.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("error sending message: %w", err)
	}
	return id, nil
}

func (c *Client) SendMulticast(ctx context.Context, tokens []string, msg delivery.Message) (delivery.MulticastResult, error) {
	if len(tokens) > delivery.MaxMulticast {
		return delivery.MulticastResult{}, fmt.Errorf("batch size %d exceeds FCM limit of %d", len(tokens), delivery.MaxMulticast)
	}

	resp, err := c.messenger.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: notification(msg),
		Data:         msg.Data,
		Android:      android(msg),
	})
	if err != nil {
		return delivery.MulticastResult{}, fmt.Errorf("error sending batch: %w", err)
	}

	return delivery.MulticastResult{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
	}, nil
}

func notification(msg delivery.Message) *messaging.Notification {
	return &messaging.Notification{Title: msg.Title, Body: msg.Body}
}

func android(msg delivery.Message) *messaging.AndroidConfig {
	priority := msg.Priority
	if priority == "" {
		priority = "high"
	}
	return &messaging.AndroidConfig{Priority: priority}
}
