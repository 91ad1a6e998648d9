// ABOUTME: Interactive chat command for solace-chat
// ABOUTME: Starts a session and runs a line-based REPL of messages and slash commands

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/solace/internal/agentapi"
	"github.com/2389/solace/internal/chat"
	"github.com/2389/solace/internal/rtc"
)

var (
	chatConversation string
	chatMicrophone   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a session with the therapist",
	Long: `Start a new session, or resume a saved conversation with --conversation.

Type to send a message. Lines starting with / are commands; /help lists them.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "resume the conversation with this id")
	chatCmd.Flags().BoolVar(&chatMicrophone, "mic", false, "turn the microphone on once connected")
}

// sessionEngine is the part of chat.Engine the REPL drives.
type sessionEngine interface {
	StartSession(ctx context.Context, existingConversationID string) (bool, error)
	EndSession(ctx context.Context)
	SendTextMessage(ctx context.Context, content string) error
	ToggleVoiceRecording(ctx context.Context) error
	ToggleVoiceSettings()
	SelectConversation(ctx context.Context, conversationID string) error
	ClearError()
	Snapshot() chat.State
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	api := agentapi.New(cfg.Gateway.URL, cfg.Gateway.Timeout, a.logger)
	transport := rtc.NewWSTransport(cfg.Gateway.URL, api, a.logger)
	r := newRenderer(cmd.OutOrStdout(), cfg.Session.UserName, cfg.Session.AgentName)

	eng := chat.New(a.store, api, transport, chat.Options{
		SettleDelay: cfg.Session.SettleDelay,
		Logger:      a.logger,
		OnChange:    r.Observe,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Close(closeCtx)
	}()

	r.Info("Connecting to %s ...", cfg.Gateway.URL)
	if _, err := eng.StartSession(ctx, chatConversation); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	r.Info("Connected (conversation %s). Type a message, or /help for commands.", eng.ActiveConversationID())

	if chatMicrophone {
		if err := eng.ToggleVoiceRecording(ctx); err != nil {
			r.Info("microphone unavailable: %v", err)
		}
	}

	return repl(ctx, cmd.InOrStdin(), eng, r)
}

const replHelp = `Commands:
  /mic            toggle the microphone
  /voice          toggle spoken replies
  /new            end this session and start a fresh conversation
  /resume <id>    switch to a saved conversation
  /end            end the session without quitting
  /start          start a session on the current conversation
  /status         show session details
  /quit           leave`

// repl reads lines until EOF, /quit or ctx cancellation.
func repl(ctx context.Context, in io.Reader, eng sessionEngine, r *renderer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, line, eng, r); quit {
				return nil
			}
		}
	}
}

// handleLine runs one REPL input and reports whether to quit.
func handleLine(ctx context.Context, line string, eng sessionEngine, r *renderer) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := eng.SendTextMessage(ctx, line); err != nil {
			// the engine already surfaced the error through the snapshot
			if errors.Is(err, chat.ErrNoActiveSession) {
				r.Info("no session; use /start")
			}
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		r.Info("%s", replHelp)
	case "/mic":
		if !eng.Snapshot().IsConnected {
			r.Info("not connected")
			return false
		}
		_ = eng.ToggleVoiceRecording(ctx)
	case "/voice":
		eng.ToggleVoiceSettings()
		if s := eng.Snapshot().Session; s != nil {
			r.Info("spoken replies: %t", s.VoiceSettings.IsEnabled)
		}
	case "/end":
		eng.EndSession(ctx)
		r.Info("session ended")
	case "/start":
		eng.ClearError()
		id := ""
		if conv := eng.Snapshot().Conversation; conv != nil {
			id = conv.ID
		}
		if _, err := eng.StartSession(ctx, id); err != nil {
			if errors.Is(err, chat.ErrSessionBusy) {
				r.Info("a session is already running")
			}
			return false
		}
		r.Info("session started")
	case "/new":
		if err := eng.SelectConversation(ctx, ""); err != nil {
			return false
		}
		if _, err := eng.StartSession(ctx, ""); err == nil {
			r.Info("new conversation started")
		}
	case "/resume":
		if len(fields) < 2 {
			r.Info("usage: /resume <conversation id>")
			return false
		}
		if err := eng.SelectConversation(ctx, fields[1]); err != nil {
			r.Info("could not switch: %v", err)
			return false
		}
		r.Info("now on conversation %s", fields[1])
	case "/status":
		printStatus(eng.Snapshot(), r)
	default:
		r.Info("unknown command %s, try /help", fields[0])
	}
	return false
}

func printStatus(s chat.State, r *renderer) {
	if s.Session == nil {
		r.Info("no session")
		return
	}
	r.Info("room %s, agent instance %s", s.Session.RoomID, s.Session.AgentInstanceID)
	r.Info("connected %t, microphone %t, agent %s", s.IsConnected, s.IsRecording, s.AgentStatus)
	if s.Conversation != nil {
		r.Info("conversation %s %q, %d messages", s.Conversation.ID, s.Conversation.Title, len(s.Messages))
	}
}
