// ABOUTME: Tests for the coven-groups commands against a fake backend
// ABOUTME: Runs the real command tree with output captured in a buffer

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	sent     []map[string]string
	stopped  []string
	deleted  []string
	members  map[string][]string
	uploaded []string
	stream   func(w http.ResponseWriter, r *http.Request)
}

func newFakeBackend(t *testing.T) (*fakeBackend, string) {
	t.Helper()
	b := &fakeBackend{members: map[string][]string{"1": {"researcher"}}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/groups/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": 1, "name": "Research", "created_at": 1767225600.0},
			{"id": 2, "name": "Writing", "created_at": 1767229200.0},
		})
	})
	mux.HandleFunc("POST /api/v1/groups/{$}", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Name string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, map[string]any{"id": 3, "name": req.Name, "created_at": 1767232800.0})
	})
	mux.HandleFunc("DELETE /api/v1/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.deleted = append(b.deleted, r.PathValue("id"))
		b.mu.Unlock()
		writeJSON(w, map[string]any{"message": "deleted"})
	})
	mux.HandleFunc("GET /api/v1/agents/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"key": "researcher", "name": "Researcher", "description": "finds sources", "emoji": "🔎"},
			{"key": "writer", "name": "Writer", "description": "drafts text"},
		})
	})
	mux.HandleFunc("GET /api/v1/groups/{id}/agents", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		var out []map[string]any
		for _, k := range b.members[r.PathValue("id")] {
			out = append(out, map[string]any{"key": k, "name": k})
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("POST /api/v1/groups/{id}/agents", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentKey string `json:"agent_key"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.members[r.PathValue("id")] = append(b.members[r.PathValue("id")], req.AgentKey)
		b.mu.Unlock()
		writeJSON(w, map[string]any{"message": "added"})
	})
	mux.HandleFunc("GET /api/v1/groups/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"id": 0, "sender": "user", "role": "user", "content": "@researcher find **sources**", "created_at": 1767225700.0},
			{"id": 1, "sender": "researcher", "role": "agent", "content": "Here they are. @user", "created_at": 1767225760.0},
		})
	})
	mux.HandleFunc("POST /api/v1/groups/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		req["group"] = r.PathValue("id")
		b.mu.Lock()
		b.sent = append(b.sent, req)
		b.mu.Unlock()
		writeJSON(w, map[string]any{"message": "sent"})
	})
	mux.HandleFunc("POST /api/v1/groups/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.stopped = append(b.stopped, r.PathValue("id"))
		b.mu.Unlock()
		writeJSON(w, map[string]any{"stopped": true})
	})
	mux.HandleFunc("GET /api/v1/groups/{id}/documents", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"document_id": "d1", "filename": "notes.md", "size": 42, "target_agent": "researcher", "created_at": 1767225800.0},
		})
	})
	mux.HandleFunc("POST /api/v1/groups/{id}/documents/upload/", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		b.mu.Lock()
		b.uploaded = append(b.uploaded, hdr.Filename)
		b.mu.Unlock()
		writeJSON(w, map[string]any{
			"document_id": "d2", "filename": hdr.Filename, "agent_id": r.FormValue("agent_id"), "file_size": len(data),
		})
	})
	mux.HandleFunc("GET /api/v1/groups/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		if b.stream == nil {
			http.NotFound(w, r)
			return
		}
		b.stream(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("COVEN_GROUPS_CONFIG", "")
	t.Setenv("COVEN_TOKEN", "")
	return b, srv.URL + "/api/v1"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return strings.TrimSpace(buf.String()), err
}

func TestGroupsList(t *testing.T) {
	_, url := newFakeBackend(t)

	out, err := runRootCommand(t, "--server", url, "groups", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Research")
	assert.Contains(t, out, "Writing")
}

func TestGroupsCreateAndDelete(t *testing.T) {
	b, url := newFakeBackend(t)

	out, err := runRootCommand(t, "--server", url, "groups", "create", "Planning")
	require.NoError(t, err)
	assert.Contains(t, out, "Created group Planning (3)")

	out, err = runRootCommand(t, "--server", url, "groups", "delete", "writing")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted group Writing")
	assert.Equal(t, []string{"2"}, b.deleted)
}

func TestGroupNotFound(t *testing.T) {
	_, url := newFakeBackend(t)

	_, err := runRootCommand(t, "--server", url, "messages", "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `group "Nope" not found`)
}

func TestAgentsCommands(t *testing.T) {
	b, url := newFakeBackend(t)

	out, err := runRootCommand(t, "--server", url, "agents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "🔎 Researcher")
	assert.Contains(t, out, "drafts text")

	out, err = runRootCommand(t, "--server", url, "agents", "add", "Research", "writer")
	require.NoError(t, err)
	assert.Contains(t, out, "Added @writer to Research")
	assert.Equal(t, []string{"researcher", "writer"}, b.members["1"])

	out, err = runRootCommand(t, "--server", url, "agents", "list", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "writer")
}

func TestMessages(t *testing.T) {
	_, url := newFakeBackend(t)

	out, err := runRootCommand(t, "--server", url, "messages", "Research")
	require.NoError(t, err)
	assert.Contains(t, out, "user: @researcher find **sources**")
	assert.Contains(t, out, "researcher: Here they are. @user")

	out, err = runRootCommand(t, "--server", url, "messages", "Research", "-n", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "find **sources**")
}

func TestMessagesMentioning(t *testing.T) {
	_, url := newFakeBackend(t)

	out, err := runRootCommand(t, "--server", url, "messages", "Research", "--mentioning", "@USER")
	require.NoError(t, err)
	assert.Contains(t, out, "Here they are.")
	assert.NotContains(t, out, "find **sources**")
}

func TestSend(t *testing.T) {
	b, url := newFakeBackend(t)

	out, err := runRootCommand(t, "--server", url, "send", "Research", "@writer", "draft", "the", "intro")
	require.NoError(t, err)
	assert.Contains(t, out, "Sent to @writer in Research")

	require.Len(t, b.sent, 1)
	assert.Equal(t, map[string]string{
		"group":    "1",
		"agent_id": "writer",
		"message":  "draft the intro",
		"sender":   "user",
	}, b.sent[0])
}

func TestSendRequiresMessage(t *testing.T) {
	_, url := newFakeBackend(t)

	_, err := runRootCommand(t, "--server", url, "send", "Research", "writer")
	assert.Error(t, err)
}

func TestStop(t *testing.T) {
	b, url := newFakeBackend(t)

	out, err := runRootCommand(t, "--server", url, "stop", "Research")
	require.NoError(t, err)
	assert.Contains(t, out, "Stopped the chain in Research")
	assert.Equal(t, []string{"1"}, b.stopped)
}

func TestUploadAndDocuments(t *testing.T) {
	b, url := newFakeBackend(t)
	path := filepath.Join(t.TempDir(), "brief.md")
	require.NoError(t, os.WriteFile(path, []byte("# brief"), 0o600))

	out, err := runRootCommand(t, "--server", url, "upload", "Research", "researcher", path, "-m", "summarize")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded brief.md (7 bytes) for @researcher, document d2")
	assert.Equal(t, []string{"brief.md"}, b.uploaded)

	out, err = runRootCommand(t, "--server", url, "documents", "Research")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.md")
	assert.Contains(t, out, "42")
}

func TestTranscriptToFile(t *testing.T) {
	_, url := newFakeBackend(t)
	path := filepath.Join(t.TempDir(), "research.html")

	out, err := runRootCommand(t, "--server", url, "transcript", "Research", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 messages to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<title>Research</title>")
	assert.Contains(t, string(data), "<strong>sources</strong>")
}

func TestConfigFileSender(t *testing.T) {
	b, url := newFakeBackend(t)
	cfgPath := filepath.Join(t.TempDir(), "groups.yaml")
	cfg := fmt.Sprintf("server:\n  base_url: %q\nsync:\n  sender: alice\n", url)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	_, err := runRootCommand(t, "--config", cfgPath, "send", "1", "writer", "hi")
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, "alice", b.sent[0]["sender"])
}

func TestWatchUntilIdle(t *testing.T) {
	b, url := newFakeBackend(t)
	b.stream = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		send := func(frame string) {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}

		send(`{"type":"connected","group_id":"1","timestamp":1}`)
		send(`{"type":"message","group_id":"1","agent_key":"researcher","timestamp":2,"payload":{"sender":"researcher","role":"agent","content":"@writer your turn"}}`)
		select {
		case <-time.After(800 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		send(`{"type":"message","group_id":"1","agent_key":"writer","timestamp":3,"payload":{"sender":"writer","role":"agent","content":"Draft ready, @user"}}`)
		<-r.Context().Done()
	}

	out, err := runRootCommand(t, "--server", url, "watch", "Research", "--until-idle")
	require.NoError(t, err)
	assert.Contains(t, out, "Watching Research")
	assert.Contains(t, out, "@writer working")
	assert.Contains(t, out, "chain idle")
}
