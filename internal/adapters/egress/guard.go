// Package egress checks and performs every outbound call a node makes. URLs
// are screened before a request leaves, on every redirect hop, and again at
// dial time against the address DNS actually produced.
package egress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
)

const (
	dialTimeout           = 10 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 30 * time.Second
	idleConnTimeout       = 90 * time.Second
)

type Policy = ports.EgressPolicy

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

type Guard struct {
	config    domain.EgressConfig
	logger    *slog.Logger
	transport http.RoundTripper
}

type Option func(*Guard)

// WithTransport replaces the dialing transport. Requests still pass the URL
// checks, header stripping and redirect validation; the dial-time address
// check is the transport's responsibility.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Guard) {
		g.transport = rt
	}
}

func NewGuard(config domain.EgressConfig, logger *slog.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		config: config,
		logger: logger.With("component", "egress"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.transport == nil {
		g.transport = newDialGuardedTransport()
	}
	return g
}

// PolicyFor combines the platform configuration with a workflow's own
// declaration. Marketplace runs get the tighter response cap.
func (g *Guard) PolicyFor(mode domain.RunMode, decl *domain.EgressDeclaration) Policy {
	p := Policy{
		DenyHosts:        append([]string(nil), g.config.DenyHosts...),
		MaxResponseBytes: g.config.MaxResponseBytes,
		MaxJSONDepth:     g.config.MaxJSONDepth,
		MaxStringLength:  g.config.MaxStringLength,
		MaxRedirects:     g.config.MaxRedirects,
	}
	if mode == domain.ModeMarketplace && g.config.MarketplaceMaxResponseBytes > 0 &&
		g.config.MarketplaceMaxResponseBytes < p.MaxResponseBytes {
		p.MaxResponseBytes = g.config.MarketplaceMaxResponseBytes
	}
	if len(g.config.AllowHosts) > 0 {
		p.AllowLists = append(p.AllowLists, g.config.AllowHosts)
	}
	if decl != nil {
		if len(decl.AllowHosts) > 0 {
			p.AllowLists = append(p.AllowLists, decl.AllowHosts)
		}
		p.DenyHosts = append(p.DenyHosts, decl.DenyHosts...)
	}
	return p
}

func denied(rawURL, reason string) error {
	return domain.NewSecurityError(
		fmt.Sprintf("egress denied: %s", reason),
		domain.ErrEgressDenied,
		domain.WithComponent("egress"),
		domain.WithOperation("validate"),
		domain.WithDetail("url", redact(rawURL)),
	)
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<malformed>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Validate rejects URLs that are malformed, non-http(s), carry credentials,
// name an internal destination, or fall outside the policy's host lists.
func (g *Guard) Validate(rawURL string, policy Policy) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return denied(rawURL, "malformed url")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return denied(rawURL, fmt.Sprintf("scheme %q not allowed", u.Scheme))
	}
	if u.User != nil {
		return denied(rawURL, "credentials in url")
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return denied(rawURL, "missing host")
	}
	if hostMatches(host, policy.DenyHosts) {
		return denied(rawURL, fmt.Sprintf("host %s is denied", host))
	}
	if reason := blockedHostReason(host); reason != "" {
		return denied(rawURL, reason)
	}
	for _, allow := range policy.AllowLists {
		if len(allow) > 0 && !hostMatches(host, allow) {
			return denied(rawURL, fmt.Sprintf("host %s not in allow list", host))
		}
	}
	return nil
}

// Client returns an http.Client bound to policy.
func (g *Guard) Client(policy Policy) *http.Client {
	timeout := g.config.RequestTimeout
	return &http.Client{
		Timeout:   timeout,
		Transport: &strippingTransport{base: g.transport},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > policy.MaxRedirects {
				return domain.NewSecurityError(
					fmt.Sprintf("too many redirects (max %d)", policy.MaxRedirects),
					domain.ErrEgressDenied,
					domain.WithComponent("egress"),
					domain.WithOperation("redirect"),
				)
			}
			if err := g.Validate(req.URL.String(), policy); err != nil {
				g.logger.Warn("redirect blocked", "url", redact(req.URL.String()), "hop", len(via))
				return err
			}
			return nil
		},
	}
}

// Do validates, sends and reads req under policy. Non-2xx responses are
// returned as-is; the caller decides what a status means.
func (g *Guard) Do(ctx context.Context, req *http.Request, policy Policy) (*Response, error) {
	if err := g.Validate(req.URL.String(), policy); err != nil {
		return nil, err
	}

	resp, err := g.Client(policy).Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ReadLimited(resp.Body, resp.ContentLength, policy.MaxResponseBytes)
	if err != nil {
		return nil, err
	}

	finalURL := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        finalURL,
	}, nil
}

// ReadLimited reads at most limit bytes and fails if the body is larger.
// A declared Content-Length beyond limit fails before anything is read.
func ReadLimited(r io.Reader, contentLength, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	if contentLength > limit {
		return nil, tooLarge(limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, tooLarge(limit)
	}
	return data, nil
}

func tooLarge(limit int64) error {
	return domain.NewResourceError(
		fmt.Sprintf("response exceeds %d bytes", limit),
		domain.ErrResponseTooLarge,
		domain.WithComponent("egress"),
		domain.WithOperation("read"),
	)
}

type strippingTransport struct {
	base http.RoundTripper
}

func (t *strippingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	StripHeaders(clone.Header)
	return t.base.RoundTrip(clone)
}

func newDialGuardedTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
		Control:   dialControl,
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConnsPerHost:   4,
	}
}

// dialControl runs after DNS resolution, so it sees the address the socket
// is about to connect to.
func dialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(normalizeHost(host))
	if ip == nil {
		return denied("//"+address, "unresolvable dial address")
	}
	if reason := blockedIPReason(ip); reason != "" {
		return denied("//"+address, "resolved to "+reason)
	}
	return nil
}
