package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "postwatch/pkg/logx"
)

// feedServer is a minimal stand-in for the forum API: one login endpoint
// issuing a bearer token and one paged feed endpoint.
type feedServer struct {
	*httptest.Server
	logins  atomic.Int64
	fetches atomic.Int64

	token string
	pages map[string]feedResponse // cursor -> page ("" is the first)

	// rejectToken forces 401 for this many fetches, simulating an
	// expired session.
	rejectNext atomic.Int64
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		token: "tok-1",
		pages: map[string]feedResponse{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		fs.logins.Add(1)
		var lr loginRequest
		if err := json.NewDecoder(r.Body).Decode(&lr); err != nil || lr.Username != "user" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(loginResponse{Token: fs.token})
	})
	mux.HandleFunc("GET /feed", func(w http.ResponseWriter, r *http.Request) {
		fs.fetches.Add(1)
		if fs.rejectNext.Load() > 0 {
			fs.rejectNext.Add(-1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+fs.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		page, ok := fs.pages[r.URL.Query().Get("cursor")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(page)
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func newTestSource(t *testing.T, srv *feedServer) *HTTPSource {
	t.Helper()
	src, err := NewHTTPSource(HTTPConfig{
		BaseURL:   srv.URL,
		LoginPath: "/login",
		FeedPath:  "/feed",
		PageSize:  10,
		Username:  "user",
		Password:  "pass",
		Timeout:   2 * time.Second,
	}, logx.Nop())
	require.NoError(t, err)
	return src
}

func asSourceError(t *testing.T, err error) *SourceError {
	t.Helper()
	var se *SourceError
	require.ErrorAs(t, err, &se)
	return se
}

func wp(title string) wirePost {
	return wirePost{Title: title, Author: "admin", PostedAt: "1h ago"}
}

func TestFetchPageLoginAndPaginate(t *testing.T) {
	t.Parallel()
	srv := newFeedServer(t)
	srv.pages[""] = feedResponse{Posts: []wirePost{wp("one"), wp("two")}, NextCursor: "c2"}
	srv.pages["c2"] = feedResponse{Posts: []wirePost{wp("three")}}
	src := newTestSource(t, srv)

	p1, err := src.FetchPage(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, p1.Posts, 2)
	assert.Equal(t, "one", p1.Posts[0].Title)
	assert.Equal(t, Cursor("c2"), p1.Next)

	p2, err := src.FetchPage(context.Background(), p1.Next)
	require.NoError(t, err)
	require.Len(t, p2.Posts, 1)
	assert.Equal(t, Cursor(""), p2.Next, "empty next cursor ends the walk")

	// Login happened once; the token was reused across pages.
	assert.Equal(t, int64(1), srv.logins.Load())
}

func TestFetchPageReloginOnAuthLoss(t *testing.T) {
	t.Parallel()
	srv := newFeedServer(t)
	srv.pages[""] = feedResponse{Posts: []wirePost{wp("one")}}
	src := newTestSource(t, srv)

	_, err := src.FetchPage(context.Background(), "")
	require.NoError(t, err)

	// Session expires server-side: next fetch gets 401 once, and the
	// client must recover with a fresh login, invisibly to the caller.
	srv.rejectNext.Store(1)
	page, err := src.FetchPage(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, page.Posts, 1)
	assert.Equal(t, int64(2), srv.logins.Load())
}

func TestFetchPagePersistentAuthLossSurfaces(t *testing.T) {
	t.Parallel()
	srv := newFeedServer(t)
	srv.pages[""] = feedResponse{}
	src := newTestSource(t, srv)

	srv.rejectNext.Store(2) // both the original and the retried fetch
	_, err := src.FetchPage(context.Background(), "")
	require.Error(t, err)
	se := asSourceError(t, err)
	assert.Equal(t, ReasonAuthLost, se.Reason)
}

func TestFetchPageBadCredentials(t *testing.T) {
	t.Parallel()
	srv := newFeedServer(t)
	src, err := NewHTTPSource(HTTPConfig{
		BaseURL:   srv.URL,
		LoginPath: "/login",
		FeedPath:  "/feed",
		Username:  "wrong",
		Password:  "creds",
	}, logx.Nop())
	require.NoError(t, err)

	_, err = src.FetchPage(context.Background(), "")
	se := asSourceError(t, err)
	assert.Equal(t, ReasonAuthLost, se.Reason)
}

func TestFetchPageMissingTitleIsBadLayout(t *testing.T) {
	t.Parallel()
	srv := newFeedServer(t)
	srv.pages[""] = feedResponse{Posts: []wirePost{{Author: "admin"}}}
	src := newTestSource(t, srv)

	_, err := src.FetchPage(context.Background(), "")
	se := asSourceError(t, err)
	assert.Equal(t, ReasonBadLayout, se.Reason)
}

func TestFetchPageMalformedBodyIsBadLayout(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(loginResponse{Token: "t"})
	})
	mux.HandleFunc("GET /feed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>feed moved</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL, LoginPath: "/login", FeedPath: "/feed"}, logx.Nop())
	require.NoError(t, err)

	_, err = src.FetchPage(context.Background(), "")
	se := asSourceError(t, err)
	assert.Equal(t, ReasonBadLayout, se.Reason)
}

func TestFetchPageServerErrorIsNetwork(t *testing.T) {
	t.Parallel()
	srv := newFeedServer(t)
	src := newTestSource(t, srv)

	// No page registered for the cursor: the server answers 404.
	_, err := src.FetchPage(context.Background(), "nope")
	se := asSourceError(t, err)
	assert.Equal(t, ReasonNetwork, se.Reason)
}

func TestFetchPageSendsCursorAndLimit(t *testing.T) {
	t.Parallel()
	var gotCursor, gotLimit string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(loginResponse{Token: "t"})
	})
	mux.HandleFunc("GET /feed", func(w http.ResponseWriter, r *http.Request) {
		gotCursor = r.URL.Query().Get("cursor")
		gotLimit = r.URL.Query().Get("limit")
		json.NewEncoder(w).Encode(feedResponse{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := NewHTTPSource(HTTPConfig{
		BaseURL: srv.URL, LoginPath: "/login", FeedPath: "/feed", PageSize: 25,
	}, logx.Nop())
	require.NoError(t, err)

	_, err = src.FetchPage(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", gotCursor)
	assert.Equal(t, "25", gotLimit)
}

func TestNewHTTPSourceValidation(t *testing.T) {
	t.Parallel()
	_, err := NewHTTPSource(HTTPConfig{}, logx.Nop())
	require.Error(t, err)
}
