// ABOUTME: Group and agent-membership endpoints of the backend API
// ABOUTME: Lists, creates, and deletes groups and manages their agents

package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/coven-groups/internal/store"
)

// ListGroups returns every group.
func (c *Client) ListGroups(ctx context.Context) ([]store.Group, error) {
	var resp []groupJSON
	if err := c.doJSON(ctx, http.MethodGet, []string{"groups", ""}, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	groups := make([]store.Group, 0, len(resp))
	for _, g := range resp {
		groups = append(groups, g.toStore())
	}
	return groups, nil
}

// CreateGroup creates a group named name.
func (c *Client) CreateGroup(ctx context.Context, name string) (store.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Group{}, fmt.Errorf("creating group: name is required")
	}

	var resp groupJSON
	req := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := c.doJSON(ctx, http.MethodPost, []string{"groups", ""}, req, &resp); err != nil {
		return store.Group{}, fmt.Errorf("creating group: %w", err)
	}
	return resp.toStore(), nil
}

// DeleteGroup deletes a group.
func (c *Client) DeleteGroup(ctx context.Context, groupID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, []string{"groups", groupID}, nil, nil); err != nil {
		return fmt.Errorf("deleting group %s: %w", groupID, err)
	}
	return nil
}

// ListAgents returns every agent the backend knows about.
func (c *Client) ListAgents(ctx context.Context) ([]store.Agent, error) {
	var resp []agentJSON
	if err := c.doJSON(ctx, http.MethodGet, []string{"agents", ""}, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return toAgents(resp), nil
}

// ListGroupAgents returns the agents assigned to a group.
func (c *Client) ListGroupAgents(ctx context.Context, groupID string) ([]store.Agent, error) {
	var resp []agentJSON
	if err := c.doJSON(ctx, http.MethodGet, []string{"groups", groupID, "agents"}, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing agents of group %s: %w", groupID, err)
	}
	return toAgents(resp), nil
}

// AddAgentToGroup assigns an agent to a group.
func (c *Client) AddAgentToGroup(ctx context.Context, groupID, agentKey string) error {
	req := struct {
		AgentKey string `json:"agent_key"`
	}{AgentKey: agentKey}
	if err := c.doJSON(ctx, http.MethodPost, []string{"groups", groupID, "agents"}, req, &statusMessage{}); err != nil {
		return fmt.Errorf("adding agent %s to group %s: %w", agentKey, groupID, err)
	}
	return nil
}

// RemoveAgentFromGroup removes an agent from a group.
func (c *Client) RemoveAgentFromGroup(ctx context.Context, groupID, agentKey string) error {
	if err := c.doJSON(ctx, http.MethodDelete, []string{"groups", groupID, "agents", agentKey}, nil, nil); err != nil {
		return fmt.Errorf("removing agent %s from group %s: %w", agentKey, groupID, err)
	}
	return nil
}

func toAgents(in []agentJSON) []store.Agent {
	agents := make([]store.Agent, 0, len(in))
	for _, a := range in {
		agents = append(agents, a.toStore())
	}
	return agents
}
