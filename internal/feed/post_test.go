package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveIDStable(t *testing.T) {
	t.Parallel()
	a := DeriveID("Patch notes", "admin", "2 hours ago")
	b := DeriveID("Patch notes", "admin", "2 hours ago")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestDeriveIDFieldSensitivity(t *testing.T) {
	t.Parallel()
	base := DeriveID("title", "author", "when")
	assert.NotEqual(t, base, DeriveID("title2", "author", "when"))
	assert.NotEqual(t, base, DeriveID("title", "author2", "when"))
	assert.NotEqual(t, base, DeriveID("title", "author", "when2"))
}

func TestDeriveIDSeparator(t *testing.T) {
	t.Parallel()
	// Field boundaries must matter: shifting a character across the
	// title/author boundary changes the ID.
	assert.NotEqual(t, DeriveID("ab", "c", "x"), DeriveID("a", "bc", "x"))
}

func TestNewPostPreservesRawPostedAt(t *testing.T) {
	t.Parallel()
	p := NewPost("t", "a", "yesterday at 9", "b", nil)
	assert.Equal(t, "yesterday at 9", p.PostedAt)
	assert.False(t, p.FoundAt.IsZero())
	assert.Equal(t, DeriveID("t", "a", "yesterday at 9"), p.ID)
}
