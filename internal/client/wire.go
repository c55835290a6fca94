// ABOUTME: JSON shapes returned by the backend and their conversion to store types
// ABOUTME: Handles numeric-or-string ids and float unix-second timestamps

package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/2389/coven-groups/internal/store"
)

// flexID accepts ids encoded as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*f = flexID(n.String())
	return nil
}

// unixTime is a timestamp in (fractional) unix seconds.
type unixTime float64

func (u unixTime) Time() time.Time {
	if u == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(float64(u))
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3)
}

func toUnix(t time.Time) unixTime {
	if t.IsZero() {
		return 0
	}
	return unixTime(float64(t.UnixMicro()) / 1e6)
}

type groupJSON struct {
	ID        flexID   `json:"id"`
	Name      string   `json:"name"`
	CreatedAt unixTime `json:"created_at"`
	UpdatedAt unixTime `json:"updated_at"`
}

func (g groupJSON) toStore() store.Group {
	return store.Group{
		ID:        string(g.ID),
		Name:      g.Name,
		CreatedAt: g.CreatedAt.Time(),
		UpdatedAt: g.UpdatedAt.Time(),
	}
}

type agentJSON struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
}

func (a agentJSON) toStore() store.Agent {
	return store.Agent{
		Key:         a.Key,
		Name:        a.Name,
		Description: a.Description,
		Emoji:       a.Emoji,
	}
}

type messageJSON struct {
	ID        flexID         `json:"id"`
	GroupID   string         `json:"group_id"`
	Sender    string         `json:"sender"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt unixTime       `json:"created_at"`
}

func (m messageJSON) toStore(groupID string) store.Message {
	gid := m.GroupID
	if gid == "" {
		gid = groupID
	}
	return store.Message{
		ID:        string(m.ID),
		GroupID:   gid,
		Sender:    m.Sender,
		Role:      store.Role(m.Role),
		Content:   m.Content,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt.Time(),
	}
}

type documentJSON struct {
	DocumentID    string   `json:"document_id"`
	Filename      string   `json:"filename"`
	Sender        string   `json:"sender"`
	TargetAgent   string   `json:"target_agent"`
	Size          int64    `json:"size"`
	CreatedAt     unixTime `json:"created_at"`
	FileExtension string   `json:"file_extension"`
	Summary       *string  `json:"content_summary"`
}

func (d documentJSON) toStore() store.Document {
	doc := store.Document{
		ID:          d.DocumentID,
		Filename:    d.Filename,
		Sender:      d.Sender,
		TargetAgent: d.TargetAgent,
		Size:        d.Size,
		Extension:   d.FileExtension,
		CreatedAt:   d.CreatedAt.Time(),
	}
	if d.Summary != nil {
		doc.Summary = *d.Summary
	}
	return doc
}

// statusMessage is the {"message": "..."} acknowledgement most mutations return.
type statusMessage struct {
	Message string `json:"message"`
}
