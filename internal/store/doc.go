// Package store persists the set of posts already surfaced to the user.
//
// It currently supports:
//   - A JSON file backend (atomic replace on every merge)
//   - A SQLite backend (transactional batch appends)
//
// Both guarantee that a batch append is all-or-nothing and that the set
// survives process restarts.
package store
