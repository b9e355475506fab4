package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Link is one hyperlink extracted from a post body.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Post is a single discovered feed item.
//
// ID is derived from the stable rendered fields (title, author, posted-at)
// so the same real-world post maps to the same identifier even when the
// page reformats. PostedAt is kept as the raw string the page renders
// (often a relative time); FoundAt is our machine timestamp.
//
// Posts are immutable once created.
type Post struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	PostedAt string    `json:"posted_at"`
	Body     string    `json:"body"`
	Links    []Link    `json:"links,omitempty"`
	FoundAt  time.Time `json:"found_at"`
}

// DeriveID computes the stable identifier for a post.
//
// The separator makes ("ab","c") and ("a","bc") hash differently.
func DeriveID(title, author, postedAt string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{'\n'})
	h.Write([]byte(author))
	h.Write([]byte{'\n'})
	h.Write([]byte(postedAt))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// NewPost builds a post with its derived ID and discovery timestamp.
func NewPost(title, author, postedAt, body string, links []Link) Post {
	return Post{
		ID:       DeriveID(title, author, postedAt),
		Title:    title,
		Author:   author,
		PostedAt: postedAt,
		Body:     body,
		Links:    links,
		FoundAt:  time.Now().UTC(),
	}
}
