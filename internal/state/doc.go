// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/gopherpaint/internal/types"

// Compile-time interface compliance checks.
var _ types.ConversationStore = (*ConversationStore)(nil)
var _ types.BindingStore = (*BindingStore)(nil)
var _ types.UsageLog = (*UsageStore)(nil)
