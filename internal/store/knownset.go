package store

import (
	"sort"
	"sync"

	"postwatch/internal/feed"
)

// KnownSet is the in-memory view of every post already surfaced to the
// user. Membership checks may run concurrently with each other; merges
// take the write lock so a scan never observes a half-applied batch.
//
// Only posts from completed, durably persisted batches are ever added
// (the drivers merge after their disk write succeeds).
type KnownSet struct {
	mu    sync.RWMutex
	posts map[string]feed.Post
}

func NewKnownSet() *KnownSet {
	return &KnownSet{posts: map[string]feed.Post{}}
}

func (k *KnownSet) Contains(id string) bool {
	k.mu.RLock()
	_, ok := k.posts[id]
	k.mu.RUnlock()
	return ok
}

func (k *KnownSet) Len() int {
	k.mu.RLock()
	n := len(k.posts)
	k.mu.RUnlock()
	return n
}

// IDs returns a point-in-time copy of the membership set. The discovery
// engine classifies one whole scan against such a snapshot.
func (k *KnownSet) IDs() map[string]struct{} {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make(map[string]struct{}, len(k.posts))
	for id := range k.posts {
		ids[id] = struct{}{}
	}
	return ids
}

// Get returns the stored post for id, if present.
func (k *KnownSet) Get(id string) (feed.Post, bool) {
	k.mu.RLock()
	p, ok := k.posts[id]
	k.mu.RUnlock()
	return p, ok
}

// Ordered returns all known posts, newest discovery first. This is the
// display view; membership order is irrelevant.
func (k *KnownSet) Ordered() []feed.Post {
	k.mu.RLock()
	out := make([]feed.Post, 0, len(k.posts))
	for _, p := range k.posts {
		out = append(out, p)
	}
	k.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FoundAt.Equal(out[j].FoundAt) {
			return out[i].FoundAt.After(out[j].FoundAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// merge applies a batch. Callers must have already persisted it.
func (k *KnownSet) merge(batch []feed.Post) {
	k.mu.Lock()
	for _, p := range batch {
		k.posts[p.ID] = p
	}
	k.mu.Unlock()
}

// snapshotAll returns every post; used by the file driver when it
// rewrites the document.
func (k *KnownSet) snapshotAll() []feed.Post {
	k.mu.RLock()
	out := make([]feed.Post, 0, len(k.posts))
	for _, p := range k.posts {
		out = append(out, p)
	}
	k.mu.RUnlock()
	return out
}
