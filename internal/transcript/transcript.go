// ABOUTME: Renders saved conversations as Markdown and HTML documents
// ABOUTME: HTML goes through goldmark so exported transcripts open in any browser

package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/solace/internal/store"
)

// Format is an export format.
type Format string

// Export formats.
const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "md", "markdown" and "html".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Options controls rendering.
type Options struct {
	// Location for timestamps. Defaults to time.Local.
	Location *time.Location
	// UserName and AgentName label the speakers.
	UserName  string
	AgentName string
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.UserName == "" {
		o.UserName = "You"
	}
	if o.AgentName == "" {
		o.AgentName = "Therapist"
	}
	return o
}

// Markdown renders conv as a Markdown document. Streaming placeholders are skipped.
func Markdown(conv *store.Conversation, opts Options) []byte {
	opts = opts.withDefaults()
	var b bytes.Buffer

	title := strings.TrimSpace(conv.Title)
	if title == "" {
		title = store.DefaultTitle
	}
	fmt.Fprintf(&b, "# %s\n\n", escapeInline(title))
	fmt.Fprintf(&b, "_Started %s, %d messages_\n",
		conv.CreatedAt.In(opts.Location).Format("2 Jan 2006 15:04"),
		conv.Metadata.TotalMessages)
	if len(conv.Metadata.Topics) > 0 {
		fmt.Fprintf(&b, "\nTopics: %s\n", escapeInline(strings.Join(conv.Metadata.Topics, ", ")))
	}

	for _, m := range conv.Messages {
		if m.IsStreaming {
			continue
		}
		speaker := opts.AgentName
		if m.Sender == store.SenderUser {
			speaker = opts.UserName
		}
		fmt.Fprintf(&b, "\n**%s** %s", escapeInline(speaker), m.Timestamp.In(opts.Location).Format("15:04"))
		if m.Kind == store.KindVoice {
			b.WriteString(" (voice)")
		}
		b.WriteString("\n\n")
		for _, line := range strings.Split(strings.TrimRight(m.Content, "\n"), "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.Bytes()
}

var page = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 42rem; margin: 2rem auto; line-height: 1.5; color: #222; }
blockquote { margin: 0 0 1rem 0; padding: .5rem 1rem; border-left: 3px solid #9ab; background: #f6f8fa; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML renders conv as a standalone HTML page. Raw HTML in message content is
// not passed through.
func HTML(conv *store.Conversation, opts Options) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert(Markdown(conv, opts), &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	title := conv.Title
	if title == "" {
		title = store.DefaultTitle
	}

	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body.String())})
	if err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return out.Bytes(), nil
}

// Render dispatches on format.
func Render(conv *store.Conversation, format Format, opts Options) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return Markdown(conv, opts), nil
	case FormatHTML:
		return HTML(conv, opts)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

var inlineEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;")

// escapeInline keeps titles and names from being read as Markdown syntax.
func escapeInline(s string) string {
	return inlineEscaper.Replace(s)
}
