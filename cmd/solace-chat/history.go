// ABOUTME: History subcommands for solace-chat
// ABOUTME: Lists, shows, renames, tags, deletes and exports saved conversations

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/solace/internal/store"
	"github.com/2389/solace/internal/transcript"
)

var (
	exportFormat string
	exportOutput string
	clearYes     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage saved conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: withStore(func(ctx context.Context, a *app, out io.Writer, _ []string) error {
		return listConversations(ctx, a.store, out)
	}),
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		return exportConversation(ctx, a.store, out, args[0], transcript.FormatMarkdown, a.transcriptOptions())
	}),
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a conversation as markdown or HTML",
	Long: `Export a conversation.

Examples:
  solace-chat history export conv_01J... > session.md
  solace-chat history export conv_01J... --format html -o session.html`,
	Args: cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		format, err := transcript.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		if exportOutput != "" {
			f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
			if err != nil {
				return fmt.Errorf("opening output: %w", err)
			}
			defer f.Close()
			out = f
		}
		return exportConversation(ctx, a.store, out, args[0], format, a.transcriptOptions())
	}),
}

var historyRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Change a conversation's title",
	Args:  cobra.MinimumNArgs(2),
	RunE: withStore(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		title := strings.Join(args[1:], " ")
		if err := a.store.Update(ctx, args[0], store.ConversationUpdate{Title: &title}); err != nil {
			return fmt.Errorf("renaming %s: %w", args[0], err)
		}
		fmt.Fprintf(out, "renamed %s\n", args[0])
		return nil
	}),
}

var historyTagCmd = &cobra.Command{
	Use:   "tag <id> <topic>...",
	Short: "Set a conversation's topics",
	Args:  cobra.MinimumNArgs(2),
	RunE: withStore(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		if err := a.store.Update(ctx, args[0], store.ConversationUpdate{Topics: args[1:]}); err != nil {
			return fmt.Errorf("tagging %s: %w", args[0], err)
		}
		fmt.Fprintf(out, "tagged %s: %s\n", args[0], strings.Join(args[1:], ", "))
		return nil
	}),
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		if _, err := a.store.Get(ctx, args[0]); err != nil {
			return fmt.Errorf("conversation %s: %w", args[0], err)
		}
		if err := a.store.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("deleting %s: %w", args[0], err)
		}
		fmt.Fprintf(out, "deleted %s\n", args[0])
		return nil
	}),
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every saved conversation",
	Args:  cobra.NoArgs,
	RunE: withStore(func(ctx context.Context, a *app, out io.Writer, _ []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to clear history without --yes")
		}
		if err := a.store.Clear(ctx); err != nil {
			return fmt.Errorf("clearing history: %w", err)
		}
		fmt.Fprintln(out, "history cleared")
		return nil
	}),
}

func init() {
	historyExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "output format (markdown|html)")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	historyClearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deletion")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd,
		historyRenameCmd, historyTagCmd, historyDeleteCmd, historyClearCmd)
}

// withStore opens the app around a history command body.
func withStore(fn func(ctx context.Context, a *app, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, cmd.OutOrStdout(), args)
	}
}

func (a *app) transcriptOptions() transcript.Options {
	return transcript.Options{UserName: a.cfg.Session.UserName, AgentName: a.cfg.Session.AgentName}
}

func listConversations(ctx context.Context, st *store.ConversationStore, out io.Writer) error {
	convs := st.ListAll(ctx)
	if len(convs) == 0 {
		fmt.Fprintln(out, "no saved conversations")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED\t")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t\n",
			c.ID, c.Title, c.Metadata.TotalMessages, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func exportConversation(ctx context.Context, st *store.ConversationStore, out io.Writer, id string, format transcript.Format, opts transcript.Options) error {
	conv, err := st.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("conversation %s: %w", id, err)
	}
	data, err := transcript.Render(conv, format, opts)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", id, err)
	}
	_, err = out.Write(data)
	return err
}
