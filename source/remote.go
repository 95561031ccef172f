package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/IvanBrykalov/coord/cache"
	"github.com/IvanBrykalov/coord/pool"
	"github.com/IvanBrykalov/coord/ratelimit"
	"github.com/IvanBrykalov/coord/retry"
)

// Remote defaults.
const (
	DefaultMaxDownloadSize = 50 << 20
	DefaultMaxSessions     = 5
	DefaultIndexTTL        = 5 * time.Minute
)

// DefaultRepositories are queried when RemoteOptions.Repositories is empty.
var DefaultRepositories = []string{
	"https://github.com/claude-builder/templates",
	"https://cdn.claude-builder.dev/templates",
}

var (
	// ErrUnsafeURL is returned for URLs that fail validation.
	ErrUnsafeURL = errors.New("remote: unsafe url")
	// ErrTooLarge is returned when a body exceeds the download cap.
	ErrTooLarge = errors.New("remote: response too large")
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: GET %s: HTTP %d", e.URL, e.Code)
}

// Transient reports whether err is worth another attempt: network failures,
// truncated bodies, 5xx and 429. Context errors never are.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IndexEntry describes one template in a repository index.
type IndexEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	DownloadURL string   `json:"download_url"`
}

// Index is a repository's index.json.
type Index struct {
	Templates []IndexEntry `json:"templates"`
}

// Find returns the entry for name.
func (ix Index) Find(name string) (IndexEntry, bool) {
	for _, e := range ix.Templates {
		if e.Name == name {
			return e, true
		}
	}
	return IndexEntry{}, false
}

// RemoteOptions configures a Remote. Zero values pick the defaults noted.
type RemoteOptions struct {
	// Repositories are base URLs, tried in order. Default DefaultRepositories.
	Repositories []string
	// Sessions is the HTTP session pool. Nil builds one with MaxSessions
	// sessions that Close will shut down.
	Sessions    *pool.Pool[*pool.Session]
	MaxSessions int
	// MaxDownloadSize caps every response body. Default 50 MiB.
	MaxDownloadSize int64
	// RateLimit gates every request. Nil means 10/s with a burst of 20.
	RateLimit *ratelimit.Limiter
	// Download retries template downloads. Zero means 3 attempts, 1s, Transient.
	Download retry.Policy
	// Index retries index fetches. Zero means 2 attempts, 0.5s.
	Index retry.Policy
	// IndexCache keeps fetched indexes by repository URL. Nil means 64
	// entries for DefaultIndexTTL.
	IndexCache cache.Cache[string, Index]
	// Insecure permits plain http and loopback/private hosts.
	Insecure bool
	Logger   *slog.Logger
}

// Remote fetches templates from HTTP template repositories.
type Remote struct {
	opt      RemoteOptions
	ownsPool bool
	indexes  singleflight.Group
}

// NewRemote constructs a Remote.
func NewRemote(opt RemoteOptions) (*Remote, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if len(opt.Repositories) == 0 {
		opt.Repositories = DefaultRepositories
	}
	if opt.MaxDownloadSize <= 0 {
		opt.MaxDownloadSize = DefaultMaxDownloadSize
	}
	if opt.RateLimit == nil {
		rl, err := ratelimit.New(ratelimit.Options{PerSecond: 10, Burst: 20, Name: "remote", Logger: opt.Logger})
		if err != nil {
			return nil, err
		}
		opt.RateLimit = rl
	}
	if opt.Download.MaxAttempts == 0 {
		opt.Download = retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, If: Transient}
	}
	if opt.Index.MaxAttempts == 0 {
		opt.Index = retry.Policy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond}
	}
	if opt.Download.Name == "" {
		opt.Download.Name = "remote.download"
	}
	if opt.Index.Name == "" {
		opt.Index.Name = "remote.index"
	}
	if opt.Download.Logger == nil {
		opt.Download.Logger = opt.Logger
	}
	if opt.Index.Logger == nil {
		opt.Index.Logger = opt.Logger
	}
	if opt.IndexCache == nil {
		opt.IndexCache = cache.New[string, Index](cache.Options[string, Index]{Capacity: 64, TTL: DefaultIndexTTL})
	}

	r := &Remote{opt: opt}
	if opt.Sessions == nil {
		n := opt.MaxSessions
		if n <= 0 {
			n = DefaultMaxSessions
		}
		p, err := pool.New(pool.Options[*pool.Session]{
			MaxResources: n,
			Constructor:  pool.HTTPSessionConstructor(30*time.Second, time.Minute),
			Destructor:   (*pool.Session).Close,
			Name:         "remote",
			Logger:       opt.Logger,
		})
		if err != nil {
			return nil, err
		}
		r.opt.Sessions = p
		r.ownsPool = true
	}
	for _, repo := range opt.Repositories {
		if err := r.validate(repo); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Remote) Name() string { return string(KindRemote) }

// Produce looks name up in each repository's index and downloads the first
// match. Repository failures are logged and the next one is tried.
func (r *Remote) Produce(ctx context.Context, name string) (Template, error) {
	for _, repo := range r.opt.Repositories {
		if err := ctx.Err(); err != nil {
			return Template{}, err
		}
		log := r.opt.Logger.With(slog.String("repository", repo), slog.String("key", name))

		ix, err := r.Index(ctx, repo)
		if err != nil {
			log.Debug("remote: index unavailable", slog.Any("error", err))
			continue
		}
		entry, ok := ix.Find(name)
		if !ok {
			continue
		}
		t, err := r.download(ctx, repo, entry)
		if err != nil {
			log.Debug("remote: download failed", slog.Any("error", err))
			continue
		}
		return t, nil
	}
	return Template{}, skip("remote", name)
}

// Index returns the index of repo, fetching it at most once at a time per
// repository and caching it afterwards.
func (r *Remote) Index(ctx context.Context, repo string) (Index, error) {
	key := strings.TrimRight(repo, "/")
	if ix, ok := r.opt.IndexCache.Get(key); ok {
		return ix, nil
	}
	// The shared fetch outlives any single caller; callers stop waiting on ctx.
	ch := r.indexes.DoChan(key, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		ix, err := retry.Do(fetchCtx, r.opt.Index, func(ctx context.Context) (Index, error) {
			return r.fetchIndex(ctx, key)
		})
		if err != nil {
			return Index{}, err
		}
		r.opt.IndexCache.Set(key, ix)
		return ix, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Index{}, res.Err
		}
		return res.Val.(Index), nil
	case <-ctx.Done():
		return Index{}, ctx.Err()
	}
}

func (r *Remote) fetchIndex(ctx context.Context, repo string) (Index, error) {
	body, err := r.get(ctx, repo+"/index.json")
	if err != nil {
		return Index{}, err
	}
	var ix Index
	if err := json.Unmarshal(body, &ix); err != nil {
		return Index{}, fmt.Errorf("remote: %s: invalid index: %w", repo, err)
	}
	return ix, nil
}

func (r *Remote) download(ctx context.Context, repo string, e IndexEntry) (Template, error) {
	if e.DownloadURL == "" {
		return Template{}, fmt.Errorf("remote: %q has no download url", e.Name)
	}
	u := e.DownloadURL
	if strings.HasPrefix(u, "/") {
		u = repo + u
	}
	if err := r.validate(u); err != nil {
		return Template{}, err
	}
	body, err := retry.Do(ctx, r.opt.Download, func(ctx context.Context) ([]byte, error) {
		return r.get(ctx, u)
	})
	if err != nil {
		return Template{}, err
	}
	return Template{
		Name:        e.Name,
		Kind:        KindRemote,
		Description: e.Description,
		Content:     string(body),
		Variables:   e.Variables,
		Origin:      repo,
	}, nil
}

// get performs one rate-limited GET on a pooled session and returns the
// body, capped at MaxDownloadSize.
func (r *Remote) get(ctx context.Context, u string) ([]byte, error) {
	if err := r.opt.RateLimit.Acquire(ctx); err != nil {
		return nil, err
	}
	var body []byte
	err := r.opt.Sessions.With(ctx, func(ctx context.Context, s *pool.Session) error {
		resp, err := s.Get(ctx, u)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{URL: u, Code: resp.StatusCode}
		}
		if resp.ContentLength > r.opt.MaxDownloadSize {
			return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, resp.ContentLength, r.opt.MaxDownloadSize)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, r.opt.MaxDownloadSize+1))
		if err != nil {
			return err
		}
		if int64(len(body)) > r.opt.MaxDownloadSize {
			return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, r.opt.MaxDownloadSize)
		}
		return nil
	})
	return body, err
}

// validate accepts https URLs with a public host; Insecure also admits
// plain http and private addresses.
func (r *Remote) validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsafeURL, raw, err)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && r.opt.Insecure:
	default:
		return fmt.Errorf("%w: %s: scheme %q not allowed", ErrUnsafeURL, raw, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: %s: missing host", ErrUnsafeURL, raw)
	}
	if r.opt.Insecure {
		return nil
	}
	if host == "localhost" {
		return fmt.Errorf("%w: %s: localhost", ErrUnsafeURL, raw)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast() {
			return fmt.Errorf("%w: %s: address %s blocked", ErrUnsafeURL, raw, ip)
		}
	}
	return nil
}

// Close shuts down the session pool if the Remote built it.
func (r *Remote) Close() {
	if r.ownsPool {
		r.opt.Sessions.Close()
	}
}
