// Package slugindex maintains the slug to creator resolution table consulted
// before the TTL cache. Entries never expire; the index is a hint layer kept
// in memory and mirrored to a flat JSON file so it survives restarts.
package slugindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Entry resolves a slug to the creator it was derived from.
type Entry struct {
	Slug    string         `json:"slug"`
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
}

// Index is a process-wide slug resolution table. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	log     *slog.Logger
}

// Load reads the index file at path, or starts empty when the file is missing
// or unreadable. Storage problems are logged and swallowed; resolution then
// simply falls through to the slower cache layers.
func Load(path string, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	idx := &Index{path: path, entries: make(map[string]Entry), log: log}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("slugindex: load failed", "path", path, "err", err)
		}
		return idx
	}
	var stored []Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		log.Warn("slugindex: corrupt index file, starting empty", "path", path, "err", err)
		return idx
	}
	for _, e := range stored {
		idx.entries[e.Slug] = e
	}
	return idx
}

// Add records a slug for a creator and returns the slug actually assigned.
// Re-registering the same address refreshes its entry in place. When the slug
// already resolves to a different address the new entry is stored under an
// address-derived suffix instead of overwriting the prior owner.
func (i *Index) Add(slug string, addr common.Address, name string) string {
	i.mu.Lock()
	assigned := i.assignLocked(slug, addr)
	i.entries[assigned] = Entry{Slug: assigned, Address: addr, Name: name}
	i.mu.Unlock()
	i.save()
	return assigned
}

func (i *Index) assignLocked(slug string, addr common.Address) string {
	existing, ok := i.entries[slug]
	if !ok || existing.Address == addr {
		return slug
	}
	suffix := strings.ToLower(addr.Hex()[2:])
	for _, n := range []int{4, 8, len(suffix)} {
		candidate := fmt.Sprintf("%s-%s", slug, suffix[:n])
		existing, ok := i.entries[candidate]
		if !ok || existing.Address == addr {
			return candidate
		}
	}
	// Full-address suffix collided, which means the same address already owns
	// it; unreachable given the loop above.
	return slug + "-" + suffix
}

// Lookup resolves a slug.
func (i *Index) Lookup(slug string) (Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.entries[slug]
	return e, ok
}

// All returns every entry, ordered by slug for deterministic output.
func (i *Index) All() []Entry {
	i.mu.RLock()
	out := make([]Entry, 0, len(i.entries))
	for _, e := range i.entries {
		out = append(out, e)
	}
	i.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Slug < out[b].Slug })
	return out
}

// Remove drops a slug from the index.
func (i *Index) Remove(slug string) {
	i.mu.Lock()
	delete(i.entries, slug)
	i.mu.Unlock()
	i.save()
}

// Clear empties the index and removes the backing file.
func (i *Index) Clear() {
	i.mu.Lock()
	i.entries = make(map[string]Entry)
	i.mu.Unlock()
	if err := os.Remove(i.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		i.log.Warn("slugindex: clear failed", "path", i.path, "err", err)
	}
}

// save rewrites the whole backing file. Every mutation triggers a full
// rewrite; the index stays small enough that this is not worth batching.
func (i *Index) save() {
	data, err := json.MarshalIndent(i.All(), "", "  ")
	if err != nil {
		i.log.Warn("slugindex: encode failed", "err", err)
		return
	}
	if err := os.WriteFile(i.path, data, 0o644); err != nil {
		i.log.Warn("slugindex: save failed", "path", i.path, "err", err)
	}
}
