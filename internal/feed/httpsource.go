package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "postwatch/pkg/logx"
)

// HTTPConfig configures the JSON feed client.
type HTTPConfig struct {
	BaseURL   string
	LoginPath string // POST {username,password} -> {token}
	FeedPath  string // GET ?cursor=&limit= -> {posts,next_cursor}
	PageSize  int
	Username  string
	Password  string
	Timeout   time.Duration // per-request; 0 means 30s
}

// HTTPSource fetches the feed from a JSON endpoint behind a login.
//
// This is the thin collaborator side of the design: everything HTTP-shaped
// stays here, and session loss surfaces as SourceError{ReasonAuthLost} so
// the scheduler can back off and retry with a fresh login.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
	log    logx.Logger

	mu    sync.Mutex
	token string
}

func NewHTTPSource(cfg HTTPConfig, log logx.Logger) (*HTTPSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("feed: base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("feed: invalid base_url: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

var _ Source = (*HTTPSource)(nil)

// wire formats

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type wirePost struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	PostedAt string `json:"posted_at"`
	Body     string `json:"body"`
	Links    []Link `json:"links"`
}

type feedResponse struct {
	Posts      []wirePost `json:"posts"`
	NextCursor string     `json:"next_cursor"`
}

func (s *HTTPSource) FetchPage(ctx context.Context, cursor Cursor) (Page, error) {
	page, err := s.fetchOnce(ctx, cursor)
	if err == nil {
		return page, nil
	}

	// One transparent re-login on auth loss; a second failure propagates.
	var se *SourceError
	if errors.As(err, &se) && se.Reason == ReasonAuthLost {
		s.log.Warn("session lost, retrying login")
		s.clearToken()
		return s.fetchOnce(ctx, cursor)
	}
	return Page{}, err
}

func (s *HTTPSource) fetchOnce(ctx context.Context, cursor Cursor) (Page, error) {
	token, err := s.ensureToken(ctx)
	if err != nil {
		return Page{}, err
	}

	u := strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.FeedPath
	q := url.Values{}
	q.Set("limit", strconv.Itoa(s.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", string(cursor))
	}
	u += "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, &SourceError{Reason: ReasonNetwork, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Page{}, &SourceError{Reason: ReasonAuthLost, Err: fmt.Errorf("feed fetch: status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return Page{}, &SourceError{Reason: ReasonNetwork, Err: fmt.Errorf("feed fetch: status %d", resp.StatusCode)}
	}

	var fr feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return Page{}, &SourceError{Reason: ReasonBadLayout, Err: err}
	}

	posts := make([]Post, 0, len(fr.Posts))
	for _, wp := range fr.Posts {
		if strings.TrimSpace(wp.Title) == "" {
			// A feed entry without a title means the page shape changed.
			return Page{}, &SourceError{Reason: ReasonBadLayout, Err: errors.New("post missing title")}
		}
		posts = append(posts, NewPost(wp.Title, wp.Author, wp.PostedAt, wp.Body, wp.Links))
	}

	return Page{Posts: posts, Next: Cursor(fr.NextCursor)}, nil
}

func (s *HTTPSource) ensureToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	body, err := json.Marshal(loginRequest{Username: s.cfg.Username, Password: s.cfg.Password})
	if err != nil {
		return "", &SourceError{Reason: ReasonBadLayout, Err: err}
	}
	u := strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.LoginPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(body)))
	if err != nil {
		return "", &SourceError{Reason: ReasonNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &SourceError{Reason: ReasonAuthLost, Err: fmt.Errorf("login: status %d", resp.StatusCode)}
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", &SourceError{Reason: ReasonBadLayout, Err: err}
	}
	if lr.Token == "" {
		return "", &SourceError{Reason: ReasonAuthLost, Err: errors.New("login: empty token")}
	}

	s.token = lr.Token
	s.log.Debug("session established")
	return s.token, nil
}

func (s *HTTPSource) clearToken() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &SourceError{Reason: ReasonTimeout, Err: err}
	}
	return &SourceError{Reason: ReasonNetwork, Err: err}
}
