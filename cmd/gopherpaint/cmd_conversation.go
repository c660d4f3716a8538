package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/gopherpaint/internal/state"
	"github.com/user/gopherpaint/internal/types"
)

func init() {
	rootCmd.AddCommand(conversationCmd)
	conversationCmd.AddCommand(conversationNewCmd, conversationListCmd, conversationShowCmd, conversationDeleteCmd)
}

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Manage conversations",
}

var conversationNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a conversation and print its id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(loadConfig())
		if err != nil {
			return err
		}
		title := ""
		if len(args) == 1 {
			title = args[0]
		}
		id, err := store.Create(context.Background(), title)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, id)
		return nil
	},
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(loadConfig())
		if err != nil {
			return err
		}
		list, err := store.List(context.Background())
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tCOST\tCREATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t$%.2f\t%s\n", s.ID, s.Title, s.MessageCount, s.TotalCost, s.CreatedAt)
		}
		return w.Flush()
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(loadConfig())
		if err != nil {
			return err
		}
		ctx := context.Background()
		id, err := resolveConversation(ctx, store, args[0])
		if err != nil {
			return err
		}
		conv, err := store.Load(ctx, id)
		if err != nil {
			return err
		}
		if conv == nil {
			return fmt.Errorf("conversation not found: %s", id)
		}

		fmt.Printf("%s\n%s  (total $%.2f)\n\n", conv.Title, conv.ID, conv.TotalCost)
		for _, m := range conv.History {
			fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.Role, types.Deref(m.Text))
			if m.Image != nil {
				fmt.Printf("    media: %s\n", store.ResolveMedia(*m.Image))
			}
			if m.Cost > 0 {
				fmt.Printf("    cost: $%.2f\n", m.Cost)
			}
		}
		return nil
	},
}

var conversationDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation and its media",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(loadConfig())
		if err != nil {
			return err
		}
		ctx := context.Background()
		id, err := resolveConversation(ctx, store, args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Conversation %s deleted.\n", id)
		return nil
	},
}

// resolveConversation accepts a full id or a unique id prefix.
func resolveConversation(ctx context.Context, store *state.ConversationStore, arg string) (types.ConversationID, error) {
	list, err := store.List(ctx)
	if err != nil {
		return "", err
	}
	var matches []types.ConversationID
	for _, s := range list {
		if string(s.ID) == arg {
			return s.ID, nil
		}
		if strings.HasPrefix(string(s.ID), arg) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("conversation not found: %s", arg)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("ambiguous conversation id %q matches %d conversations", arg, len(matches))
}
