package source

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

	"github.com/elonfeng/subledger/internal/metrics"
	"github.com/elonfeng/subledger/internal/retry"
)

const (
	defaultOAuthBaseURL  = "https://oauth.reddit.com"
	defaultPublicBaseURL = "https://www.reddit.com"
	defaultAuthURL       = "https://www.reddit.com/api/v1/access_token"
	defaultUserAgent     = "subledger/1.0"
	deletedAuthor        = "[deleted]"
)

// RedditOptions configures the Reddit client. Without credentials the client
// reads the public JSON endpoints anonymously.
type RedditOptions struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	BaseURL      string
	AuthURL      string
	Communities  []string
	PageLimit    int
	Retry        *retry.Config
	HTTPClient   *http.Client
}

// Reddit streams submissions and comments from a combined set of subreddits.
type Reddit struct {
	client       *http.Client
	clientID     string
	clientSecret string
	userAgent    string
	baseURL      string
	authURL      string
	scope        string
	pageLimit    int
	retry        *retry.Config

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	commMu      sync.Mutex
	communities map[string]*redditCommunity
}

// NewReddit creates a new Reddit client.
func NewReddit(opts RedditOptions) *Reddit {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultPublicBaseURL
		if opts.ClientID != "" {
			baseURL = defaultOAuthBaseURL
		}
	}
	authURL := opts.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	limit := opts.PageLimit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return &Reddit{
		client:       client,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		userAgent:    ua,
		baseURL:      strings.TrimRight(baseURL, "/"),
		authURL:      authURL,
		scope:        strings.Join(opts.Communities, "+"),
		pageLimit:    limit,
		retry:        opts.Retry,
		communities:  make(map[string]*redditCommunity),
	}
}

// Submissions returns the stream of new submissions across the watched scope.
func (r *Reddit) Submissions(opts StreamOptions) *PollStream {
	return NewPollStream(r.fetchSubmissions, opts)
}

// Comments returns the stream of new comments across the watched scope.
func (r *Reddit) Comments(opts StreamOptions) *PollStream {
	return NewPollStream(r.fetchComments, opts)
}

// Author returns a lazy reference to the named account, or nil when the
// account has been deleted.
func (r *Reddit) Author(name string) AuthorRef {
	if name == "" || name == deletedAuthor {
		return nil
	}
	return &redditAuthor{r: r, name: name}
}

// Community returns a lazy reference to the named subreddit. References are
// cached for the life of the client.
func (r *Reddit) Community(name string) CommunityRef {
	key := strings.ToLower(name)
	r.commMu.Lock()
	defer r.commMu.Unlock()
	if c, ok := r.communities[key]; ok {
		return c
	}
	c := &redditCommunity{r: r, name: name}
	r.communities[key] = c
	return c
}

func (r *Reddit) fetchSubmissions(ctx context.Context) ([]Item, error) {
	var listing redditListing
	path := fmt.Sprintf("/r/%s/new.json", r.scope)
	if err := r.getJSON(ctx, "list submissions", path, r.pageQuery(), &listing); err != nil {
		return nil, scopeError(err)
	}

	authors := r.authorCache()
	items := make([]Item, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		var post redditPost
		if err := json.Unmarshal(child.Data, &post); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		items = append(items, r.toSubmission(&post, authors))
	}
	return items, nil
}

func (r *Reddit) fetchComments(ctx context.Context) ([]Item, error) {
	var listing redditListing
	path := fmt.Sprintf("/r/%s/comments.json", r.scope)
	if err := r.getJSON(ctx, "list comments", path, r.pageQuery(), &listing); err != nil {
		return nil, scopeError(err)
	}

	comments := make([]redditComment, 0, len(listing.Data.Children))
	var linkIDs []string
	wanted := make(map[string]bool)
	for _, child := range listing.Data.Children {
		var c redditComment
		if err := json.Unmarshal(child.Data, &c); err != nil {
			return nil, fmt.Errorf("decode comment: %w", err)
		}
		comments = append(comments, c)
		if c.LinkID != "" && !wanted[c.LinkID] {
			wanted[c.LinkID] = true
			linkIDs = append(linkIDs, c.LinkID)
		}
	}

	authors := r.authorCache()
	parents, err := r.fetchSubmissionsByID(ctx, linkIDs, authors)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(comments))
	for i := range comments {
		c := &comments[i]
		parent, ok := parents[c.LinkID]
		if !ok {
			parent = r.fallbackParent(c, authors)
		}
		items = append(items, &Comment{
			ID:         c.ID,
			CreatedAt:  unixUTC(c.CreatedUTC),
			Author:     authors(c.Author),
			Community:  r.Community(c.Subreddit),
			Body:       c.Body,
			Permalink:  c.Permalink,
			ParentID:   c.ParentID,
			Submission: parent,
		})
	}
	return items, nil
}

// fetchSubmissionsByID loads submissions by fullname (t3_xxx) in one request.
func (r *Reddit) fetchSubmissionsByID(ctx context.Context, fullnames []string, authors func(string) AuthorRef) (map[string]*Submission, error) {
	out := make(map[string]*Submission, len(fullnames))
	if len(fullnames) == 0 {
		return out, nil
	}

	var listing redditListing
	q := url.Values{"id": {strings.Join(fullnames, ",")}, "raw_json": {"1"}}
	if err := r.getJSON(ctx, "load parent submissions", "/api/info.json", q, &listing); err != nil {
		return nil, err
	}

	for _, child := range listing.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var post redditPost
		if err := json.Unmarshal(child.Data, &post); err != nil {
			return nil, fmt.Errorf("decode parent submission: %w", err)
		}
		out[post.Name] = r.toSubmission(&post, authors)
	}
	return out, nil
}

// fallbackParent builds the parent submission from the link_* fields carried
// by the comment itself when the submission could not be loaded.
func (r *Reddit) fallbackParent(c *redditComment, authors func(string) AuthorRef) *Submission {
	return &Submission{
		ID:        strings.TrimPrefix(c.LinkID, "t3_"),
		Author:    authors(c.LinkAuthor),
		Community: r.Community(c.Subreddit),
		Title:     c.LinkTitle,
		Permalink: c.LinkPermalink,
		URL:       c.LinkURL,
	}
}

func (r *Reddit) toSubmission(p *redditPost, authors func(string) AuthorRef) *Submission {
	s := &Submission{
		ID:        p.ID,
		CreatedAt: unixUTC(p.CreatedUTC),
		Author:    authors(p.Author),
		Community: r.Community(p.Subreddit),
		Title:     p.Title,
		SelfText:  p.Selftext,
		Permalink: p.Permalink,
		URL:       p.URL,
		IsSelf:    p.IsSelf,
		Over18:    p.Over18,
	}
	if p.LinkFlairText != nil {
		s.LinkFlair = *p.LinkFlairText
	}
	return s
}

// authorCache shares one lazy reference per account within a listing page so
// an author seen several times is looked up once.
func (r *Reddit) authorCache() func(string) AuthorRef {
	refs := make(map[string]AuthorRef)
	return func(name string) AuthorRef {
		if ref, ok := refs[name]; ok {
			return ref
		}
		ref := r.Author(name)
		refs[name] = ref
		return ref
	}
}

func (r *Reddit) pageQuery() url.Values {
	return url.Values{
		"limit":    {strconv.Itoa(r.pageLimit)},
		"raw_json": {"1"},
	}
}

func scopeError(err error) error {
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", ErrScopeNotFound, err)
	}
	return err
}

// getJSON performs an authenticated GET, retrying transient failures, and
// decodes the body into out.
func (r *Reddit) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	return retry.DoIfRetryable(ctx, r.retry, func() error {
		if err := r.authenticate(ctx); err != nil {
			return fmt.Errorf("reddit auth: %w", err)
		}

		reqURL := r.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		if tok := r.currentToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		req.Header.Set("User-Agent", r.userAgent)

		start := time.Now()
		resp, err := r.client.Do(req)
		if err != nil {
			metrics.RecordHTTPRequest(op, "error", time.Since(start).Seconds())
			return fmt.Errorf("%s: %w", op, err)
		}
		defer resp.Body.Close()
		metrics.RecordHTTPRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

		if resp.StatusCode == http.StatusUnauthorized {
			r.resetToken()
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Op: op, Code: resp.StatusCode}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", op, err)
		}
		return nil
	})
}

func (r *Reddit) authenticate(ctx context.Context) error {
	if r.clientID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return nil
	}

	data := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.authURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}

	req.SetBasicAuth(r.clientID, r.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("reddit token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "reddit token request", Code: resp.StatusCode}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("decode reddit token: %w", err)
	}

	r.token = tokenResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return nil
}

func (r *Reddit) currentToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

func (r *Reddit) resetToken() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = ""
}

// redditAuthor loads /user/{name}/about at most once and serves both field
// groups from that response.
type redditAuthor struct {
	r    *Reddit
	name string

	once  sync.Once
	about *redditUser
	err   error
}

func (a *redditAuthor) Name() string { return a.name }

func (a *redditAuthor) load(ctx context.Context) (*redditUser, error) {
	a.once.Do(func() {
		var resp struct {
			Data redditUser `json:"data"`
		}
		path := "/user/" + url.PathEscape(a.name) + "/about.json"
		err := a.r.getJSON(ctx, "load user", path, nil, &resp)
		var se *StatusError
		switch {
		case errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusForbidden):
			a.err = fmt.Errorf("%w: user %s: %w", ErrUnavailable, a.name, err)
		case err != nil:
			a.err = fmt.Errorf("user %s: %w", a.name, err)
		default:
			a.about = &resp.Data
		}
	})
	return a.about, a.err
}

func (a *redditAuthor) Identity(ctx context.Context) (AuthorIdentity, error) {
	u, err := a.load(ctx)
	if err != nil {
		return AuthorIdentity{}, err
	}
	if u.IsSuspended || u.CreatedUTC <= 0 || u.Name == "" {
		return AuthorIdentity{}, fmt.Errorf("%w: user %s has no public identity", ErrUnavailable, a.name)
	}
	return AuthorIdentity{Name: u.Name, CreatedAt: unixUTC(u.CreatedUTC)}, nil
}

func (a *redditAuthor) Profile(ctx context.Context) (AuthorProfile, error) {
	u, err := a.load(ctx)
	if err != nil {
		return AuthorProfile{}, err
	}
	if u.IsSuspended || u.LinkKarma == nil || u.CommentKarma == nil {
		return AuthorProfile{}, fmt.Errorf("%w: user %s has no karma", ErrUnavailable, a.name)
	}
	if u.Subreddit == nil {
		return AuthorProfile{}, fmt.Errorf("%w: user %s has no profile subreddit", ErrUnavailable, a.name)
	}
	return AuthorProfile{
		LinkKarma:          *u.LinkKarma,
		CommentKarma:       *u.CommentKarma,
		HasVerifiedEmail:   u.HasVerifiedEmail,
		ProfileTitle:       u.Subreddit.Title,
		ProfileDescription: u.Subreddit.PublicDescription,
		ProfileOver18:      u.Subreddit.Over18,
	}, nil
}

// redditCommunity caches /r/{name}/about after the first successful load.
type redditCommunity struct {
	r    *Reddit
	name string

	mu   sync.Mutex
	info *CommunityInfo
}

func (c *redditCommunity) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info != nil {
		return c.info.DisplayName
	}
	return c.name
}

func (c *redditCommunity) Info(ctx context.Context) (CommunityInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info != nil {
		return *c.info, nil
	}

	var resp struct {
		Data redditSubreddit `json:"data"`
	}
	path := "/r/" + url.PathEscape(c.name) + "/about.json"
	if err := c.r.getJSON(ctx, "load subreddit", path, nil, &resp); err != nil {
		return CommunityInfo{}, fmt.Errorf("subreddit %s: %w", c.name, scopeError(err))
	}

	d := resp.Data
	name := d.DisplayName
	if name == "" {
		name = c.name
	}
	c.info = &CommunityInfo{
		DisplayName:       name,
		Fullname:          d.Name,
		ID:                d.ID,
		CreatedAt:         unixUTC(d.CreatedUTC),
		Description:       d.Description,
		PublicDescription: d.PublicDescription,
		Subscribers:       d.Subscribers,
		Over18:            d.Over18,
	}
	return *c.info, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	Selftext      string  `json:"selftext"`
	Author        string  `json:"author"`
	Subreddit     string  `json:"subreddit"`
	CreatedUTC    float64 `json:"created_utc"`
	LinkFlairText *string `json:"link_flair_text"`
	IsSelf        bool    `json:"is_self"`
	Over18        bool    `json:"over_18"`
}

type redditComment struct {
	ID            string  `json:"id"`
	Body          string  `json:"body"`
	Permalink     string  `json:"permalink"`
	Author        string  `json:"author"`
	Subreddit     string  `json:"subreddit"`
	CreatedUTC    float64 `json:"created_utc"`
	ParentID      string  `json:"parent_id"`
	LinkID        string  `json:"link_id"`
	LinkTitle     string  `json:"link_title"`
	LinkAuthor    string  `json:"link_author"`
	LinkPermalink string  `json:"link_permalink"`
	LinkURL       string  `json:"link_url"`
}

type redditUser struct {
	Name             string  `json:"name"`
	CreatedUTC       float64 `json:"created_utc"`
	LinkKarma        *int    `json:"link_karma"`
	CommentKarma     *int    `json:"comment_karma"`
	HasVerifiedEmail bool    `json:"has_verified_email"`
	IsSuspended      bool    `json:"is_suspended"`
	Subreddit        *struct {
		Title             string `json:"title"`
		PublicDescription string `json:"public_description"`
		Over18            bool   `json:"over_18"`
	} `json:"subreddit"`
}

type redditSubreddit struct {
	DisplayName       string  `json:"display_name"`
	Name              string  `json:"name"`
	ID                string  `json:"id"`
	CreatedUTC        float64 `json:"created_utc"`
	Description       string  `json:"description"`
	PublicDescription string  `json:"public_description"`
	Subscribers       int     `json:"subscribers"`
	Over18            bool    `json:"over18"`
}
