// ABOUTME: Terminal renderer for chat engine snapshots
// ABOUTME: Prints each finished message once and reports status, transcript and error changes

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/solace/internal/chat"
	"github.com/2389/solace/internal/store"
)

var (
	userColor   = color.New(color.FgGreen, color.Bold)
	agentColor  = color.New(color.FgCyan, color.Bold)
	statusColor = color.New(color.FgHiBlack)
	errorColor  = color.New(color.FgRed)
)

// renderer turns engine snapshots into terminal output. Observe is safe to
// use as chat.Options.OnChange.
type renderer struct {
	out       io.Writer
	userName  string
	agentName string

	mu         sync.Mutex
	printed    map[string]bool
	status     chat.AgentStatus
	transcript string
	lastErr    string
	recording  bool
}

func newRenderer(out io.Writer, userName, agentName string) *renderer {
	return &renderer{
		out:       out,
		userName:  userName,
		agentName: agentName,
		printed:   make(map[string]bool),
		status:    chat.StatusIdle,
	}
}

// Observe prints whatever changed since the previous snapshot.
func (r *renderer) Observe(s chat.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range s.Messages {
		if m.IsStreaming || r.printed[m.ID] {
			continue
		}
		r.printed[m.ID] = true
		r.printMessage(m)
	}

	if s.IsRecording != r.recording {
		r.recording = s.IsRecording
		if s.IsRecording {
			statusColor.Fprintln(r.out, "  [microphone on]")
		} else {
			statusColor.Fprintln(r.out, "  [microphone off]")
		}
	}

	if s.CurrentTranscript != r.transcript {
		r.transcript = s.CurrentTranscript
		if s.CurrentTranscript != "" {
			statusColor.Fprintf(r.out, "  hearing: %s\n", s.CurrentTranscript)
		}
	}

	if s.AgentStatus != r.status {
		r.status = s.AgentStatus
		if s.AgentStatus == chat.StatusThinking || s.AgentStatus == chat.StatusSpeaking {
			statusColor.Fprintf(r.out, "  %s is %s...\n", r.agentName, s.AgentStatus)
		}
	}

	if s.Error != r.lastErr {
		r.lastErr = s.Error
		if s.Error != "" {
			errorColor.Fprintf(r.out, "  ! %s\n", s.Error)
		}
	}
}

func (r *renderer) printMessage(m store.Message) {
	name, c := r.agentName, agentColor
	if m.Sender == store.SenderUser {
		name, c = r.userName, userColor
	}

	suffix := ""
	if m.Kind == store.KindVoice {
		suffix = " (voice)"
	}
	c.Fprintf(r.out, "%s", name)
	statusColor.Fprintf(r.out, " %s%s\n", m.Timestamp.Local().Format("15:04"), suffix)
	for _, line := range strings.Split(m.Content, "\n") {
		fmt.Fprintf(r.out, "  %s\n", line)
	}
}

// Info prints a dim informational line.
func (r *renderer) Info(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	statusColor.Fprintf(r.out, format+"\n", args...)
}
