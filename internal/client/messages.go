// ABOUTME: Message endpoints of the backend API
// ABOUTME: Lists a group's history, sends user messages, and stops agent chains

package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/2389/coven-groups/internal/store"
)

// SendRequest is the body of POST /groups/{id}/messages.
type SendRequest struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
	Sender  string `json:"sender,omitempty"`
}

// ListMessages returns the full message history of a group in server order.
func (c *Client) ListMessages(ctx context.Context, groupID string) ([]store.Message, error) {
	var resp []messageJSON
	if err := c.doJSON(ctx, http.MethodGet, []string{"groups", groupID, "messages"}, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing messages of group %s: %w", groupID, err)
	}

	msgs := make([]store.Message, 0, len(resp))
	for _, m := range resp {
		msgs = append(msgs, m.toStore(groupID))
	}
	return msgs, nil
}

// SendMessage posts a message addressed to req.AgentID. The backend answers
// once the message is accepted; agent replies arrive later on the stream.
func (c *Client) SendMessage(ctx context.Context, groupID string, req SendRequest) error {
	if req.AgentID == "" || req.Message == "" {
		return fmt.Errorf("sending message to group %s: agent id and message are required", groupID)
	}
	if err := c.doJSON(ctx, http.MethodPost, []string{"groups", groupID, "messages"}, req, &statusMessage{}); err != nil {
		return fmt.Errorf("sending message to group %s: %w", groupID, err)
	}
	return nil
}

// StopChain asks the backend to stop the agent chain running in a group.
func (c *Client) StopChain(ctx context.Context, groupID string) error {
	var resp struct {
		Stopped bool `json:"stopped"`
	}
	if err := c.doJSON(ctx, http.MethodPost, []string{"groups", groupID, "stop"}, nil, &resp); err != nil {
		return fmt.Errorf("stopping chain in group %s: %w", groupID, err)
	}
	return nil
}
