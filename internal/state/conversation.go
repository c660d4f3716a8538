// internal/state/conversation.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/user/gopherpaint/internal/types"
)

const (
	historyFile = "history.json"
	mediaDir    = "images"

	// titleLimit is the number of characters of the first user message kept
	// as the derived title.
	titleLimit = 30

	// Fixed-width so that timestamps sort lexically as well as by time.
	timestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// ConversationStore keeps one JSON document per conversation at
// conversations/<id>/history.json, with generated media alongside in
// conversations/<id>/images/.
//
// Appends are serialised per conversation and written atomically, so a
// failed write leaves the previous document in place.
type ConversationStore struct {
	root string
	now  func() time.Time

	mu     sync.Mutex
	locks  map[types.ConversationID]*sync.Mutex
	issued map[string]struct{}
}

// NewConversationStore creates a file-backed ConversationStore rooted at the given directory.
func NewConversationStore(root string) *ConversationStore {
	return &ConversationStore{
		root:   root,
		now:    time.Now,
		locks:  make(map[types.ConversationID]*sync.Mutex),
		issued: make(map[string]struct{}),
	}
}

func (s *ConversationStore) conversationsDir() string {
	return filepath.Join(s.root, "conversations")
}

// Dir returns the storage directory of a conversation.
func (s *ConversationStore) Dir(id types.ConversationID) string {
	return filepath.Join(s.conversationsDir(), string(id))
}

func (s *ConversationStore) historyPath(id types.ConversationID) string {
	return filepath.Join(s.Dir(id), historyFile)
}

func (s *ConversationStore) mediaDir(id types.ConversationID) string {
	return filepath.Join(s.Dir(id), mediaDir)
}

// getLock returns the per-conversation mutex, creating one if it doesn't exist.
func (s *ConversationStore) getLock(id types.ConversationID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *ConversationStore) timestamp() string {
	return s.now().Format(timestampLayout)
}

func validID(id types.ConversationID) bool {
	str := string(id)
	return str != "" && str != "." && str != ".." && !strings.ContainsAny(str, `/\`)
}

// Create allocates a new conversation with an empty history and zero cost.
// An empty title means the default placeholder, which the first user message
// later replaces.
func (s *ConversationStore) Create(_ context.Context, title string) (types.ConversationID, error) {
	const op = "create conversation"

	if title == "" {
		title = types.DefaultTitle
	}
	id := types.NewConversationID()

	if err := os.MkdirAll(s.mediaDir(id), 0o755); err != nil {
		return "", types.E(types.KindStorageUnavailable, op, err)
	}

	conv := &types.Conversation{
		ID:        id,
		Title:     title,
		CreatedAt: s.timestamp(),
		History:   []types.Message{},
	}
	if err := s.write(conv); err != nil {
		os.RemoveAll(s.Dir(id))
		return "", types.E(types.KindStorageUnavailable, op, err)
	}

	slog.Debug("conversation created", "conversation_id", string(id), "title", title)
	return id, nil
}

// AppendMessage adds a message to the end of the conversation history and
// returns the updated document.
func (s *ConversationStore) AppendMessage(_ context.Context, id types.ConversationID, msg types.NewMessage) (*types.Conversation, error) {
	const op = "append message"

	if !validID(id) {
		return nil, types.Errorf(types.KindInvalid, op, "invalid conversation id %q", id)
	}
	if !msg.Role.Valid() {
		return nil, types.Errorf(types.KindInvalid, op, "invalid role %q", msg.Role)
	}
	if msg.Cost < 0 || math.IsNaN(msg.Cost) || math.IsInf(msg.Cost, 0) {
		return nil, types.Errorf(types.KindInvalid, op, "invalid cost %v", msg.Cost)
	}

	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.read(id)
	if err != nil {
		return nil, wrapOp(op, err)
	}

	first := len(conv.History) == 0
	conv.History = append(conv.History, types.Message{
		Role:      msg.Role,
		Text:      types.StringPtr(msg.Text),
		Timestamp: s.timestamp(),
		Image:     types.StringPtr(s.mediaRef(msg.MediaPath)),
		Cost:      msg.Cost,
	})
	conv.TotalCost = totalCost(conv.History)

	if first && msg.Role == types.RoleUser && conv.Title == types.DefaultTitle && msg.Text != "" {
		conv.Title = DeriveTitle(msg.Text)
	}

	if err := s.write(conv); err != nil {
		return nil, types.E(types.KindStorageUnavailable, op, err)
	}
	return conv, nil
}

// Load returns the conversation with the given id, or nil if there is none.
// A document that exists but cannot be parsed is reported as CorruptData.
func (s *ConversationStore) Load(_ context.Context, id types.ConversationID) (*types.Conversation, error) {
	if !validID(id) {
		return nil, nil
	}
	conv, err := s.read(id)
	if err != nil {
		if errors.Is(err, types.ErrConversationNotFound) {
			return nil, nil
		}
		return nil, wrapOp("load conversation", err)
	}
	return conv, nil
}

// List returns all conversations newest first. Documents that fail to parse
// are logged and skipped.
func (s *ConversationStore) List(_ context.Context) ([]*types.Summary, error) {
	entries, err := os.ReadDir(s.conversationsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*types.Summary{}, nil
		}
		return nil, types.E(types.KindStorageUnavailable, "list conversations", err)
	}

	summaries := make([]*types.Summary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := types.ConversationID(entry.Name())
		conv, err := s.read(id)
		if err != nil {
			if !errors.Is(err, types.ErrConversationNotFound) {
				slog.Warn("skipping unreadable conversation", "conversation_id", string(id), "error", err)
			}
			continue
		}
		summaries = append(summaries, conv.Summary())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if c := compareCreated(a.CreatedAt, b.CreatedAt); c != 0 {
			return c > 0
		}
		return a.ID < b.ID
	})
	return summaries, nil
}

// NewMediaPath returns an unused path for a new media file inside the
// conversation's media directory, named by the current millisecond.
func (s *ConversationStore) NewMediaPath(id types.ConversationID, ext string) (string, error) {
	const op = "new media path"

	if !validID(id) {
		return "", types.Errorf(types.KindInvalid, op, "invalid conversation id %q", id)
	}
	if ext == "" {
		ext = ".png"
	} else if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if _, err := os.Stat(s.historyPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", types.Errorf(types.KindConversationNotFound, op, "conversation %s", id)
		}
		return "", types.E(types.KindStorageUnavailable, op, err)
	}
	dir := s.mediaDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", types.E(types.KindStorageUnavailable, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := strconv.FormatInt(s.now().UnixMilli(), 10)
	path := filepath.Join(dir, base+ext)
	for n := 1; s.taken(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, n, ext))
	}
	s.issued[path] = struct{}{}
	return path, nil
}

// taken reports whether path exists or was already handed out. Caller must hold s.mu.
func (s *ConversationStore) taken(path string) bool {
	if _, ok := s.issued[path]; ok {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

// LastMedia returns the resolved path of the most recent media reference in
// the conversation, or "" if no message carries one.
func (s *ConversationStore) LastMedia(ctx context.Context, id types.ConversationID) (string, error) {
	conv, err := s.Load(ctx, id)
	if err != nil {
		return "", err
	}
	if conv == nil {
		return "", types.Errorf(types.KindConversationNotFound, "last media", "conversation %s", id)
	}
	for i := len(conv.History) - 1; i >= 0; i-- {
		if ref := types.Deref(conv.History[i].Image); ref != "" {
			return s.ResolveMedia(ref), nil
		}
	}
	return "", nil
}

// Delete removes the conversation directory together with its media.
func (s *ConversationStore) Delete(_ context.Context, id types.ConversationID) error {
	const op = "delete conversation"

	if !validID(id) {
		return types.Errorf(types.KindInvalid, op, "invalid conversation id %q", id)
	}

	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.Dir(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Errorf(types.KindConversationNotFound, op, "conversation %s", id)
		}
		return types.E(types.KindStorageUnavailable, op, err)
	}
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return types.E(types.KindStorageUnavailable, op, err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// ResolveMedia turns a stored media reference back into a filesystem path.
func (s *ConversationStore) ResolveMedia(ref string) string {
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(s.root, filepath.FromSlash(ref))
}

// mediaRef stores paths inside the data directory relative to it, so the
// data directory can be moved as a whole.
func (s *ConversationStore) mediaRef(path string) string {
	if path == "" {
		return ""
	}
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return path
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

// read loads and parses a conversation document.
func (s *ConversationStore) read(id types.ConversationID) (*types.Conversation, error) {
	data, err := os.ReadFile(s.historyPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.Errorf(types.KindConversationNotFound, "", "conversation %s", id)
		}
		return nil, types.E(types.KindStorageUnavailable, "", fmt.Errorf("read history: %w", err))
	}

	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, types.E(types.KindCorruptData, "", fmt.Errorf("unmarshal history %s: %w", id, err))
	}
	if conv.ID == "" {
		conv.ID = id
	}
	if conv.History == nil {
		conv.History = []types.Message{}
	}
	return &conv, nil
}

// write marshals the document and replaces history.json atomically.
func (s *ConversationStore) write(conv *types.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	target := s.historyPath(conv.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp history: %w", err)
	}
	return nil
}

// DeriveTitle shortens the first user message into a conversation title.
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= titleLimit {
		return text
	}
	return string([]rune(text)[:titleLimit]) + "..."
}

// Zone-less timestamps (as older history files carry) are read as local time.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// compareCreated orders creation timestamps by instant, then by text.
// Timestamps that parse sort after (are newer than) those that don't, so
// the order stays total when the two kinds are mixed.
func compareCreated(a, b string) int {
	ta, okA := parseTimestamp(a)
	tb, okB := parseTimestamp(b)
	switch {
	case okA && !okB:
		return 1
	case !okA && okB:
		return -1
	case okA && okB:
		if c := ta.Compare(tb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

func totalCost(history []types.Message) float64 {
	var sum float64
	for _, m := range history {
		sum += m.Cost
	}
	return sum
}

// wrapOp stamps op onto a classified error coming from read.
func wrapOp(op string, err error) error {
	var e *types.Error
	if errors.As(err, &e) && e.Op == "" {
		return &types.Error{Kind: e.Kind, Op: op, Err: e.Err}
	}
	return err
}
