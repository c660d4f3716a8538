// Package telegram exposes conversations as Telegram chats. Each chat is
// bound to one active conversation; text becomes a prompt and a photo with
// a caption becomes a prompt with a reference image.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gopherpaint/internal/gateway"
	"github.com/user/gopherpaint/internal/generate"
	"github.com/user/gopherpaint/internal/types"
	"github.com/user/gopherpaint/pkg/media"
)

const (
	maxTelegramMessage = 4096
	listLimit          = 10
)

// sender is the part of the bot API the adapter talks through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// chatPrefs are per-chat generation settings toggled by commands.
type chatPrefs struct {
	mode    media.Mode
	useLast bool
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	send     sender
	gateway  *gateway.Gateway
	store    types.ConversationStore
	bindings types.BindingStore
	allowed  map[int64]bool
	http     *resty.Client

	mu    sync.Mutex
	prefs map[types.ChannelKey]*chatPrefs
}

// New creates a Telegram adapter. An empty allowedUsers list admits anyone.
func New(token string, gw *gateway.Gateway, store types.ConversationStore, bindings types.BindingStore, allowedUsers []int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, gw, store, bindings, allowedUsers)
	a.bot = bot
	return a, nil
}

func newAdapter(s sender, gw *gateway.Gateway, store types.ConversationStore, bindings types.BindingStore, allowedUsers []int64) *Adapter {
	allowed := make(map[int64]bool, len(allowedUsers))
	for _, id := range allowedUsers {
		allowed[id] = true
	}
	return &Adapter{
		send:     s,
		gateway:  gw,
		store:    store,
		bindings: bindings,
		allowed:  allowed,
		http:     resty.New(),
		prefs:    make(map[types.ChannelKey]*chatPrefs),
	}
}

// Start begins long-polling for Telegram updates and returns when ctx is
// cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram adapter started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if len(a.allowed) > 0 && !a.allowed[msg.From.ID] {
		slog.Warn("ignoring message from unlisted user", "user_id", msg.From.ID)
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	prompt := msg.Text
	if len(msg.Photo) > 0 {
		prompt = msg.Caption
	}
	if strings.TrimSpace(prompt) == "" {
		if len(msg.Photo) > 0 {
			a.reply(msg.Chat.ID, "Add a caption to the photo to use it as a prompt.")
		}
		return
	}

	key := buildChannelKey(msg.From.ID, msg.Chat.ID)
	convID, err := a.conversation(ctx, key)
	if err != nil {
		slog.Error("resolve conversation", "key", string(key), "error", err)
		a.reply(msg.Chat.ID, "Sorry, I could not open your conversation.")
		return
	}

	prefs := a.prefsFor(key)
	job := gateway.NewJob(convID, prompt, prefs.mode)
	job.UseLastImage = prefs.useLast

	if len(msg.Photo) > 0 {
		ref, err := a.downloadPhoto(ctx, convID, msg.Photo)
		if err != nil {
			slog.Error("download photo", "error", err)
			a.reply(msg.Chat.ID, "Sorry, I could not download that photo.")
			return
		}
		job.References = []string{ref}
	}

	results, err := a.gateway.Submit(ctx, job)
	if err != nil {
		a.reply(msg.Chat.ID, "Error: "+generate.Describe(err))
		return
	}

	action := tgbotapi.ChatUploadPhoto
	if prefs.mode.IsVideo() {
		action = tgbotapi.ChatUploadVideo
	}
	a.sendAction(msg.Chat.ID, action)

	go a.deliver(msg.Chat.ID, results)
}

// deliver waits for the job's result and posts it to the chat.
func (a *Adapter) deliver(chatID int64, results <-chan gateway.Result) {
	r := <-results
	if r.Err != nil {
		a.reply(chatID, "Error: "+generate.Describe(r.Err))
		return
	}

	caption := fmt.Sprintf("$%.2f", r.Cost)
	var c tgbotapi.Chattable
	if r.Mode.IsVideo() {
		v := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(r.Path))
		v.Caption = caption
		c = v
	} else {
		p := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(r.Path))
		p.Caption = caption
		c = p
	}
	if _, err := a.send.Send(c); err != nil {
		slog.Error("send media", "path", r.Path, "error", err)
		a.reply(chatID, "Generated "+filepath.Base(r.Path)+" but could not upload it.")
	}
}

// conversation returns the chat's bound conversation, creating one on
// first contact.
func (a *Adapter) conversation(ctx context.Context, key types.ChannelKey) (types.ConversationID, error) {
	return a.bindings.Resolve(ctx, key, func(ctx context.Context) (types.ConversationID, error) {
		return a.store.Create(ctx, "")
	})
}

// downloadPhoto saves the largest size of a Telegram photo into the
// conversation's media directory.
func (a *Adapter) downloadPhoto(ctx context.Context, convID types.ConversationID, sizes []tgbotapi.PhotoSize) (string, error) {
	if a.bot == nil {
		return "", fmt.Errorf("photo download needs a live bot")
	}
	largest := sizes[len(sizes)-1]
	url, err := a.bot.GetFileDirectURL(largest.FileID)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	path, err := a.store.NewMediaPath(convID, ".jpg")
	if err != nil {
		return "", err
	}
	if err := a.fetchFile(ctx, url, path); err != nil {
		return "", err
	}
	return path, nil
}

// fetchFile downloads url into path. Nothing is left at path on failure.
func (a *Adapter) fetchFile(ctx context.Context, url, path string) error {
	resp, err := a.http.R().SetContext(ctx).SetOutput(path).Get(url)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("download: %w", err)
	}
	if resp.IsError() {
		os.Remove(path)
		return fmt.Errorf("download: status %d", resp.StatusCode())
	}
	return nil
}

func (a *Adapter) prefsFor(key types.ChannelKey) chatPrefs {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.prefs[key]
	if !ok {
		return chatPrefs{mode: media.ModeImage}
	}
	return *p
}

func (a *Adapter) updatePrefs(key types.ChannelKey, fn func(*chatPrefs)) chatPrefs {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.prefs[key]
	if !ok {
		p = &chatPrefs{mode: media.ModeImage}
		a.prefs[key] = p
	}
	fn(p)
	return *p
}

func (a *Adapter) sendAction(chatID int64, action string) {
	if _, err := a.send.Send(tgbotapi.NewChatAction(chatID, action)); err != nil {
		slog.Debug("send chat action", "error", err)
	}
}

func (a *Adapter) reply(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		if _, err := a.send.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			slog.Error("send message", "chat_id", chatID, "error", err)
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildChannelKey(userID, chatID int64) types.ChannelKey {
	return types.NewChannelKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
