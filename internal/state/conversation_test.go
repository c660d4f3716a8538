// internal/state/conversation_test.go
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gopherpaint/internal/types"
)

// fixedClock makes the store's clock return t, advancing by step on each call.
func fixedClock(store *ConversationStore, t time.Time, step time.Duration) {
	var mu sync.Mutex
	store.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := t
		t = t.Add(step)
		return now
	}
}

func TestConversationStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewConversationStore(dir)
	ctx := context.Background()

	id, err := store.Create(ctx, "")
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(dir, "conversations", string(id), "images"))

	conv, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.DefaultTitle, conv.Title)
	require.Empty(t, conv.History)
	require.Zero(t, conv.TotalCost)

	media, err := store.NewMediaPath(id, ".png")
	require.NoError(t, err)

	appended := []types.NewMessage{
		{Role: types.RoleUser, Text: "a red bicycle"},
		{Role: types.RoleAssistant, Text: "Image Generated", MediaPath: media, Cost: 0.04},
		{Role: types.RoleUser, Text: "now in blue"},
		{Role: types.RoleAssistant, Text: "Error: quota exceeded"},
	}
	for _, msg := range appended {
		_, err := store.AppendMessage(ctx, id, msg)
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		conv, err = store.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, conv.History, len(appended))
		for j, msg := range appended {
			got := conv.History[j]
			require.Equal(t, msg.Role, got.Role)
			require.Equal(t, msg.Text, types.Deref(got.Text))
			require.Equal(t, msg.Cost, got.Cost)
			require.NotEmpty(t, got.Timestamp)
		}
	}

	ref := types.Deref(conv.History[1].Image)
	require.Equal(t, fmt.Sprintf("conversations/%s/images/%s", id, filepath.Base(media)), ref)
	require.Equal(t, media, store.ResolveMedia(ref))
	require.Nil(t, conv.History[0].Image)
}

func TestAppendMessageCostInvariant(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	id, err := store.Create(ctx, "costs")
	require.NoError(t, err)

	costs := []float64{0, 0.04, 0, 0.04, 3.2, 0, 0.1, 0.2, 0.3}
	var want float64
	for i, cost := range costs {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		conv, err := store.AppendMessage(ctx, id, types.NewMessage{Role: role, Text: "m", Cost: cost})
		require.NoError(t, err)
		want += cost
		require.Equal(t, want, conv.TotalCost)
		require.Len(t, conv.History, i+1)
	}

	conv, err := store.Load(ctx, id)
	require.NoError(t, err)
	var sum float64
	for _, m := range conv.History {
		sum += m.Cost
	}
	require.Equal(t, sum, conv.TotalCost)
	require.Len(t, conv.History, len(costs))
}

func TestAppendMessageRejectsInvalidInput(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	id, err := store.Create(ctx, "")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, id, types.NewMessage{Role: "system", Text: "x"})
	require.ErrorIs(t, err, types.ErrInvalid)

	_, err = store.AppendMessage(ctx, id, types.NewMessage{Role: types.RoleUser, Cost: -1})
	require.ErrorIs(t, err, types.ErrInvalid)

	_, err = store.AppendMessage(ctx, "../escape", types.NewMessage{Role: types.RoleUser})
	require.ErrorIs(t, err, types.ErrInvalid)

	conv, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Empty(t, conv.History)
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	store := NewConversationStore(t.TempDir())

	_, err := store.AppendMessage(context.Background(), types.NewConversationID(),
		types.NewMessage{Role: types.RoleUser, Text: "hello"})
	require.ErrorIs(t, err, types.ErrConversationNotFound)
}

func TestTitleDerivation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		title string
		msgs  []types.NewMessage
		want  string
	}{
		{
			name: "short first message kept verbatim",
			msgs: []types.NewMessage{{Role: types.RoleUser, Text: "Clean the lobby floor please"}},
			want: "Clean the lobby floor please",
		},
		{
			name: "exactly thirty characters",
			msgs: []types.NewMessage{{Role: types.RoleUser, Text: strings.Repeat("x", 30)}},
			want: strings.Repeat("x", 30),
		},
		{
			name: "long first message truncated",
			msgs: []types.NewMessage{{Role: types.RoleUser, Text: "A photorealistic warehouse with oil spills"}},
			want: "A photorealistic warehouse wit...",
		},
		{
			name:  "explicit title kept",
			title: "My project",
			msgs:  []types.NewMessage{{Role: types.RoleUser, Text: "hello"}},
			want:  "My project",
		},
		{
			name: "assistant first leaves placeholder",
			msgs: []types.NewMessage{
				{Role: types.RoleAssistant, Text: "welcome"},
				{Role: types.RoleUser, Text: "hello"},
			},
			want: types.DefaultTitle,
		},
		{
			name: "only the first message counts",
			msgs: []types.NewMessage{
				{Role: types.RoleUser, Text: "first"},
				{Role: types.RoleUser, Text: "second"},
			},
			want: "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewConversationStore(t.TempDir())
			id, err := store.Create(ctx, tt.title)
			require.NoError(t, err)
			for _, msg := range tt.msgs {
				_, err := store.AppendMessage(ctx, id, msg)
				require.NoError(t, err)
			}
			conv, err := store.Load(ctx, id)
			require.NoError(t, err)
			require.Equal(t, tt.want, conv.Title)
		})
	}
}

func TestDeriveTitleCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 40)
	require.Equal(t, strings.Repeat("é", 30)+"...", DeriveTitle(text))
	require.Len(t, []rune(DeriveTitle(strings.Repeat("a", 40))), 33)
}

func TestListSortedNewestFirstAndSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := NewConversationStore(dir)
	fixedClock(store, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), time.Minute)
	ctx := context.Background()

	var ids []types.ConversationID
	for i := 0; i < 3; i++ {
		id, err := store.Create(ctx, fmt.Sprintf("c%d", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	corrupt := filepath.Join(dir, "conversations", "broken")
	require.NoError(t, os.MkdirAll(corrupt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "history.json"), []byte("{not json"), 0o644))

	// A directory without a document is ignored as well.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conversations", "empty"), 0o755))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, ids[2], list[0].ID)
	require.Equal(t, ids[1], list[1].ID)
	require.Equal(t, ids[0], list[2].ID)

	_, err = store.Load(ctx, "broken")
	require.ErrorIs(t, err, types.ErrCorruptData)
}

func TestListTiesBrokenByID(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	fixedClock(store, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), 0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := store.Create(ctx, "")
		require.NoError(t, err)
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i := 1; i < len(list); i++ {
		require.Less(t, string(list[i-1].ID), string(list[i].ID))
	}
}

func writeHistory(t *testing.T, dir, id, createdAt string) {
	t.Helper()
	convDir := filepath.Join(dir, "conversations", id)
	require.NoError(t, os.MkdirAll(convDir, 0o755))
	doc := fmt.Sprintf(`{"id":%q,"title":%q,"created_at":%q,"total_cost":0,"history":[]}`, id, id, createdAt)
	require.NoError(t, os.WriteFile(filepath.Join(convDir, "history.json"), []byte(doc), 0o644))
}

func TestListMixedTimestampFormats(t *testing.T) {
	local := time.Local
	time.Local = time.UTC
	t.Cleanup(func() { time.Local = local })

	dir := t.TempDir()
	writeHistory(t, dir, "a", "2024-01-01T10:00:00Z")
	writeHistory(t, dir, "b", "2024-01-01T12:00:00+05:00")
	writeHistory(t, dir, "c", "2024-01-01T11:00:00.250000")
	writeHistory(t, dir, "d", "last tuesday")

	list, err := NewConversationStore(dir).List(context.Background())
	require.NoError(t, err)

	var got []types.ConversationID
	for _, s := range list {
		got = append(got, s.ID)
	}
	require.Equal(t, []types.ConversationID{"c", "a", "b", "d"}, got)
}

func TestCompareCreatedIsConsistent(t *testing.T) {
	values := []string{
		"2024-01-01T10:00:00Z",
		"2024-01-01T12:00:00+05:00",
		"2024-01-01T07:00:00Z",
		"2024-01-01T11:00:00",
		"garbage",
		"",
	}
	for _, a := range values {
		require.Equal(t, 0, compareCreated(a, a), a)
		for _, b := range values {
			require.Equal(t, -compareCreated(b, a), compareCreated(a, b), "%q vs %q", a, b)
			for _, c := range values {
				if compareCreated(a, b) > 0 && compareCreated(b, c) > 0 {
					require.Positive(t, compareCreated(a, c), "%q > %q > %q", a, b, c)
				}
			}
		}
	}
}

func TestListEmptyRoot(t *testing.T) {
	store := NewConversationStore(filepath.Join(t.TempDir(), "missing"))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestLoadUnknownConversation(t *testing.T) {
	store := NewConversationStore(t.TempDir())

	conv, err := store.Load(context.Background(), types.NewConversationID())
	require.NoError(t, err)
	require.Nil(t, conv)
}

func TestCreateStorageUnavailable(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	store := NewConversationStore(root)
	_, err := store.Create(context.Background(), "")
	require.ErrorIs(t, err, types.ErrStorageUnavailable)
}

func TestFailedAppendLeavesDocumentIntact(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	id, err := store.Create(ctx, "")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, types.NewMessage{Role: types.RoleUser, Text: "first"})
	require.NoError(t, err)

	// Block the temp file so the atomic write fails.
	tmp := filepath.Join(store.Dir(id), "history.json.tmp")
	require.NoError(t, os.Mkdir(tmp, 0o755))

	_, err = store.AppendMessage(ctx, id, types.NewMessage{Role: types.RoleAssistant, Text: "second", Cost: 0.04})
	require.ErrorIs(t, err, types.ErrStorageUnavailable)

	conv, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, conv.History, 1)
	require.Zero(t, conv.TotalCost)
}

func TestConcurrentAppendsKeepEveryMessage(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	id, err := store.Create(ctx, "")
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, id, types.NewMessage{
				Role: types.RoleAssistant,
				Text: fmt.Sprintf("m%d", i),
				Cost: 1,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	conv, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, conv.History, n)
	require.Equal(t, float64(n), conv.TotalCost)
}

func TestNewMediaPath(t *testing.T) {
	dir := t.TempDir()
	store := NewConversationStore(dir)
	fixedClock(store, time.UnixMilli(1700000000000), 0)
	ctx := context.Background()

	id, err := store.Create(ctx, "")
	require.NoError(t, err)

	first, err := store.NewMediaPath(id, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(store.Dir(id), "images", "1700000000000.png"), first)

	// Same millisecond: the second path must differ.
	second, err := store.NewMediaPath(id, "png")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Equal(t, ".png", filepath.Ext(second))

	video, err := store.NewMediaPath(id, ".mp4")
	require.NoError(t, err)
	require.Equal(t, ".mp4", filepath.Ext(video))

	_, err = store.NewMediaPath(types.NewConversationID(), ".png")
	require.ErrorIs(t, err, types.ErrConversationNotFound)
}

func TestLastMediaAndDelete(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	id, err := store.Create(ctx, "")
	require.NoError(t, err)

	last, err := store.LastMedia(ctx, id)
	require.NoError(t, err)
	require.Empty(t, last)

	older, err := store.NewMediaPath(id, ".png")
	require.NoError(t, err)
	newer, err := store.NewMediaPath(id, ".png")
	require.NoError(t, err)

	for _, p := range []string{older, newer} {
		_, err := store.AppendMessage(ctx, id, types.NewMessage{Role: types.RoleAssistant, MediaPath: p})
		require.NoError(t, err)
	}
	_, err = store.AppendMessage(ctx, id, types.NewMessage{Role: types.RoleUser, Text: "again"})
	require.NoError(t, err)

	last, err = store.LastMedia(ctx, id)
	require.NoError(t, err)
	require.Equal(t, newer, last)

	require.NoError(t, store.Delete(ctx, id))
	require.NoDirExists(t, store.Dir(id))
	require.ErrorIs(t, store.Delete(ctx, id), types.ErrConversationNotFound)

	_, err = store.LastMedia(ctx, id)
	require.ErrorIs(t, err, types.ErrConversationNotFound)
}
