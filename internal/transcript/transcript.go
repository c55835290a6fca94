// ABOUTME: Renders a group conversation to a standalone HTML transcript
// ABOUTME: Message bodies are markdown and go through goldmark; raw HTML in them is dropped

package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/coven-groups/internal/store"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #1f2328; }
header { border-bottom: 1px solid #d0d7de; margin-bottom: 1.5rem; }
.msg { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 6px; background: #f6f8fa; }
.msg.user { background: #ddf4ff; }
.msg.system { background: #fff8c5; }
.meta { font-size: 0.8rem; color: #656d76; margin-bottom: 0.25rem; }
.sender { font-weight: 600; color: #1f2328; }
pre { overflow-x: auto; background: #eaeef2; padding: 0.5rem; }
</style>
</head>
<body>
<header>
<h1>{{.Title}}</h1>
<p class="meta">{{len .Messages}} messages, exported {{.Generated.Format "2006-01-02 15:04 MST"}}</p>
</header>
{{range .Messages}}<article class="msg {{.Role}}">
<div class="meta"><span class="sender">{{.Sender}}</span> {{.Time.Format "2006-01-02 15:04:05"}}</div>
{{.Body}}
</article>
{{end}}</body>
</html>
`

// Renderer writes HTML transcripts.
type Renderer struct {
	md   goldmark.Markdown
	page *template.Template
	now  func() time.Time
}

type entry struct {
	Sender string
	Role   store.Role
	Time   time.Time
	Body   template.HTML
}

type page struct {
	Title     string
	Generated time.Time
	Messages  []entry
}

// New creates a Renderer with GitHub flavored markdown enabled.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		page: template.Must(template.New("transcript").Parse(pageTemplate)),
		now:  time.Now,
	}
}

// WithClock sets the clock used for the export timestamp.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// Render writes the transcript of group to w. Only confirmed messages are
// included; pending and failed local messages never reached the server.
func (r *Renderer) Render(w io.Writer, group store.Group, msgs []store.Message) error {
	title := group.Name
	if title == "" {
		title = group.ID
	}

	p := page{
		Title:     title,
		Generated: r.now(),
		Messages:  make([]entry, 0, len(msgs)),
	}
	for _, m := range msgs {
		if m.IsPending() {
			continue
		}
		body, err := r.markdown(m.Content)
		if err != nil {
			return fmt.Errorf("rendering message %s: %w", m.ID, err)
		}
		p.Messages = append(p.Messages, entry{
			Sender: m.Sender,
			Role:   m.Role,
			Time:   m.CreatedAt,
			Body:   body,
		})
	}

	if err := r.page.Execute(w, p); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	return nil
}

func (r *Renderer) markdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	// goldmark omits raw HTML unless html.WithUnsafe is set.
	return template.HTML(buf.String()), nil
}
