package notify

import (
	"context"

	"firebase.google.com/go/v4/messaging"
)

// fcmBatchLimit is the maximum number of tokens per multicast request.
const fcmBatchLimit = 500

// FCMSender sends through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender wraps a client obtained from firebase.App.Messaging.
func NewFCMSender(client *messaging.Client) *FCMSender {
	return &FCMSender{client: client}
}

// Send implements MobileSender. Tokens FCM reports as unregistered or
// malformed are returned as invalid.
func (f *FCMSender) Send(ctx context.Context, tokens []string, m *Message) ([]string, error) {
	var invalid []string
	for start := 0; start < len(tokens); start += fcmBatchLimit {
		chunk := tokens[start:min(start+fcmBatchLimit, len(tokens))]
		resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       chunk,
			Notification: &messaging.Notification{Title: m.Title, Body: m.Body},
			Data:         m.Data,
		})
		if err != nil {
			return invalid, err
		}
		invalid = append(invalid, rejectedTokens(chunk, resp.Responses)...)
	}
	return invalid, nil
}

func rejectedTokens(tokens []string, responses []*messaging.SendResponse) []string {
	var out []string
	for i, r := range responses {
		if i >= len(tokens) || r == nil || r.Success {
			continue
		}
		if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			out = append(out, tokens[i])
		}
	}
	return out
}
