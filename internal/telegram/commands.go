package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gopherpaint/internal/types"
	"github.com/user/gopherpaint/pkg/media"
)

const helpText = `Send a prompt to generate an image. Send a photo with a caption to use it as a reference.

/new - start a new conversation
/list - show recent conversations
/use <id> - switch to a conversation (id prefix is enough)
/mode [image|text_to_video|image_to_video|multi_reference_to_video] - show or set the generation mode
/base on|off - build on the last generated image
/cost - show the cost of the current conversation`

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildChannelKey(msg.From.ID, msg.Chat.ID)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		a.reply(chatID, helpText)

	case "new":
		id, err := a.store.Create(ctx, "")
		if err == nil {
			err = a.bindings.Rebind(ctx, key, id)
		}
		if err != nil {
			a.reply(chatID, "Error creating conversation: "+err.Error())
			return
		}
		a.reply(chatID, "Started conversation "+shortID(id)+".")

	case "list":
		a.reply(chatID, a.listText(ctx, key))

	case "use":
		id, err := a.findConversation(ctx, args)
		if err == nil {
			err = a.bindings.Rebind(ctx, key, id)
		}
		if err != nil {
			a.reply(chatID, "Error: "+err.Error())
			return
		}
		a.reply(chatID, "Switched to conversation "+shortID(id)+".")

	case "mode":
		if args == "" {
			a.reply(chatID, "Mode: "+string(a.prefsFor(key).mode))
			return
		}
		mode, err := media.ParseMode(args)
		if err != nil {
			a.reply(chatID, "Error: "+err.Error())
			return
		}
		a.updatePrefs(key, func(p *chatPrefs) { p.mode = mode })
		a.reply(chatID, "Mode set to "+string(mode)+".")

	case "base":
		on, ok := parseToggle(args)
		if !ok {
			a.reply(chatID, "Usage: /base on|off")
			return
		}
		a.updatePrefs(key, func(p *chatPrefs) { p.useLast = on })
		if on {
			a.reply(chatID, "Prompts will build on the last image.")
		} else {
			a.reply(chatID, "Prompts start from scratch.")
		}

	case "cost":
		id, err := a.conversation(ctx, key)
		if err != nil {
			a.reply(chatID, "Error: "+err.Error())
			return
		}
		conv, err := a.store.Load(ctx, id)
		if err != nil || conv == nil {
			a.reply(chatID, "Error fetching conversation.")
			return
		}
		a.reply(chatID, fmt.Sprintf("%s\nMessages: %d\nTotal cost: $%.2f", conv.Title, len(conv.History), conv.TotalCost))

	default:
		a.reply(chatID, "Unknown command.\n\n"+helpText)
	}
}

func (a *Adapter) listText(ctx context.Context, key types.ChannelKey) string {
	summaries, err := a.store.List(ctx)
	if err != nil {
		return "Error listing conversations."
	}
	if len(summaries) == 0 {
		return "No conversations yet."
	}

	var active types.ConversationID
	if bindings, err := a.bindings.List(ctx); err == nil {
		for _, b := range bindings {
			if b.Key == key {
				active = b.ConversationID
			}
		}
	}

	var sb strings.Builder
	for i, s := range summaries {
		if i == listLimit {
			fmt.Fprintf(&sb, "... and %d more", len(summaries)-listLimit)
			break
		}
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %s  %s  ($%.2f)\n", marker, shortID(s.ID), s.Title, s.TotalCost)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// findConversation resolves a full id or unique id prefix.
func (a *Adapter) findConversation(ctx context.Context, prefix string) (types.ConversationID, error) {
	if prefix == "" {
		return "", fmt.Errorf("usage: /use <id>")
	}
	summaries, err := a.store.List(ctx)
	if err != nil {
		return "", err
	}
	var matches []types.ConversationID
	for _, s := range summaries {
		if strings.HasPrefix(string(s.ID), prefix) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no conversation matches %q", prefix)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("%q matches %d conversations", prefix, len(matches))
}

func shortID(id types.ConversationID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

func parseToggle(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "yes", "true", "1":
		return true, true
	case "off", "no", "false", "0":
		return false, true
	}
	return false, false
}
