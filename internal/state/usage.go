// internal/state/usage.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/gopherpaint/internal/types"
)

// UsageStore is a JSONL-backed append-only log of generation jobs in
// <root>/usage.jsonl.
type UsageStore struct {
	root string
	now  func() time.Time
	mu   sync.Mutex
}

// NewUsageStore creates a UsageStore rooted at the given directory.
func NewUsageStore(root string) *UsageStore {
	return &UsageStore{root: root, now: time.Now}
}

func (u *UsageStore) path() string {
	return filepath.Join(u.root, "usage.jsonl")
}

// Append adds rec to the log, assigning its sequence number and, when
// unset, its timestamp.
func (u *UsageStore) Append(_ context.Context, rec *types.UsageRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := os.MkdirAll(u.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	records, err := u.read()
	if err != nil {
		return err
	}
	rec.Seq = int64(len(records)) + 1
	if rec.At == "" {
		rec.At = u.now().Format(timestampLayout)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}
	f, err := os.OpenFile(u.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open usage log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write usage record: %w", err)
	}
	return nil
}

// Tail returns the last limit records, oldest first. A limit <= 0 returns
// everything.
func (u *UsageStore) Tail(_ context.Context, limit int) ([]*types.UsageRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	records, err := u.read()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// read parses the whole log. Unparsable lines are skipped so that a torn
// final write does not hide earlier records. Caller must hold u.mu.
func (u *UsageStore) read() ([]*types.UsageRecord, error) {
	f, err := os.Open(u.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open usage log: %w", err)
	}
	defer f.Close()

	var records []*types.UsageRecord
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		var rec types.UsageRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			slog.Warn("skipping malformed usage record", "line", line, "error", err)
			continue
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan usage log: %w", err)
	}
	return records, nil
}

// UsageTotals aggregates usage records for one mode.
type UsageTotals struct {
	Mode     string
	Jobs     int
	Failures int
	Cost     float64
}

// SummarizeUsage groups records by mode, sorted by mode name.
func SummarizeUsage(records []*types.UsageRecord) []UsageTotals {
	byMode := make(map[string]*UsageTotals)
	for _, r := range records {
		t, ok := byMode[r.Mode]
		if !ok {
			t = &UsageTotals{Mode: r.Mode}
			byMode[r.Mode] = t
		}
		t.Jobs++
		if r.Outcome != "ok" {
			t.Failures++
		}
		t.Cost += r.Cost
	}
	totals := make([]UsageTotals, 0, len(byMode))
	for _, t := range byMode {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Mode < totals[j].Mode })
	return totals
}
