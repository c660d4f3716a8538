// internal/state/binding.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/gopherpaint/internal/types"
)

// BindingStore is a JSON-file-backed index from channel keys to the
// conversation each channel is currently writing to. It is stored in
// bindings.json under the data directory.
type BindingStore struct {
	root string
	mu   sync.RWMutex
}

// NewBindingStore creates a new file-backed BindingStore rooted at the given directory.
func NewBindingStore(root string) *BindingStore {
	return &BindingStore{root: root}
}

func (b *BindingStore) indexPath() string {
	return filepath.Join(b.root, "bindings.json")
}

// loadIndex reads bindings.json and returns a map keyed by ChannelKey.
func (b *BindingStore) loadIndex() (map[types.ChannelKey]*types.Binding, error) {
	data, err := os.ReadFile(b.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[types.ChannelKey]*types.Binding), nil
		}
		return nil, fmt.Errorf("read binding index: %w", err)
	}

	var bindings []*types.Binding
	if err := json.Unmarshal(data, &bindings); err != nil {
		return nil, types.E(types.KindCorruptData, "load bindings", err)
	}

	index := make(map[types.ChannelKey]*types.Binding, len(bindings))
	for _, binding := range bindings {
		index[binding.Key] = binding
	}
	return index, nil
}

// saveIndex converts the map to a key-sorted slice and writes it atomically.
func (b *BindingStore) saveIndex(index map[types.ChannelKey]*types.Binding) error {
	bindings := sortedBindings(index)

	data, err := json.MarshalIndent(bindings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal binding index: %w", err)
	}

	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return types.E(types.KindStorageUnavailable, "save bindings", err)
	}

	tmp := b.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp binding index: %w", err)
	}
	if err := os.Rename(tmp, b.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp binding index: %w", err)
	}
	return nil
}

// Resolve returns the conversation bound to key, calling create and binding
// its result if the key has none yet.
func (b *BindingStore) Resolve(ctx context.Context, key types.ChannelKey, create func(context.Context) (types.ConversationID, error)) (types.ConversationID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.loadIndex()
	if err != nil {
		return "", err
	}

	if existing, ok := index[key]; ok {
		return existing.ConversationID, nil
	}

	id, err := create(ctx)
	if err != nil {
		return "", err
	}
	index[key] = &types.Binding{
		Key:            key,
		ConversationID: id,
		UpdatedAt:      time.Now().Format(timestampLayout),
	}

	if err := b.saveIndex(index); err != nil {
		return "", err
	}
	return id, nil
}

// Rebind points key at a different conversation.
func (b *BindingStore) Rebind(_ context.Context, key types.ChannelKey, id types.ConversationID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.loadIndex()
	if err != nil {
		return err
	}

	index[key] = &types.Binding{
		Key:            key,
		ConversationID: id,
		UpdatedAt:      time.Now().Format(timestampLayout),
	}
	return b.saveIndex(index)
}

// List returns all bindings ordered by key.
func (b *BindingStore) List(_ context.Context) ([]*types.Binding, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	index, err := b.loadIndex()
	if err != nil {
		return nil, err
	}
	return sortedBindings(index), nil
}

func sortedBindings(index map[types.ChannelKey]*types.Binding) []*types.Binding {
	bindings := make([]*types.Binding, 0, len(index))
	for _, binding := range index {
		bindings = append(bindings, binding)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Key < bindings[j].Key })
	return bindings
}
