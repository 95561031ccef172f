package pool

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// UserAgent is sent by every pooled HTTP session.
const UserAgent = "coord/0.1"

// Session is a pooled HTTP client with its own connection set.
type Session struct {
	ID     string
	Client *http.Client

	transport *http.Transport
}

// HTTPSessionConstructor returns a Constructor that builds sessions with the
// given request timeout and keep-alive period.
func HTTPSessionConstructor(timeout, keepAlive time.Duration) func(ctx context.Context) (*Session, error) {
	return func(context.Context) (*Session, error) {
		tr := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: timeout, KeepAlive: keepAlive}).DialContext,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     keepAlive,
		}
		return &Session{
			ID:        uuid.NewString(),
			Client:    &http.Client{Timeout: timeout, Transport: tr},
			transport: tr,
		}, nil
	}
}

// Get issues a GET with the session's user agent.
func (s *Session) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	return s.Client.Do(req)
}

// Close drops the session's idle connections.
func (s *Session) Close() {
	s.transport.CloseIdleConnections()
}
