// Package activitypub implements the federation protocol engine: owner
// validation, HTTP signatures, the Follow/Accept handshake and the
// followers/following collections. All durable state lives in the owner's
// personal data store, reached through an authenticated fetch collaborator.
package activitypub

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"go.uber.org/zap"

	"github.com/solipub/solipub/kv"
)

// Doer is the minimal HTTP client contract used for every outbound fetch.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuthFetcher produces an HTTP client whose requests are authorized
// against the owner's personal data store on behalf of the given identity.
// The delegated-authentication protocol itself is not this engine's
// concern.
type AuthFetcher interface {
	AuthFetch(ctx context.Context, webID, issuer string) (Doer, error)
}

// ActorURIStrategy derives the canonical local URI for an actor's resource
// ("inbox", "followers", "following", or "" for the actor itself) under the
// agent's base URL.
type ActorURIStrategy func(baseURL, actorURI, resource string) string

// DefaultActorURIStrategy builds {baseUrl}/users/{urlEncode(actorURI)}/{resource},
// the scheme third-party servers must be able to reproduce byte for byte.
func DefaultActorURIStrategy(baseURL, actorURI, resource string) string {
	u := baseURL + "/users/" + EncodeActorURI(actorURI)
	if resource == "" {
		return u
	}
	return u + "/" + resource
}

// EncodeActorURI percent-encodes an actor URI the way encodeURIComponent
// does, so the local path scheme matches what remote servers derive.
func EncodeActorURI(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Request is the engine's transport-neutral view of an inbound HTTP
// request. Headers are folded: multi-valued headers arrive comma-joined
// under their canonical name. Host carries the authority the client
// addressed; server transports must set it, since an origin-form URL
// has an empty URL.Host.
type Request struct {
	Method string
	URL    *url.URL
	Host   string
	Header map[string]string
	Body   []byte
}

// HTTPRequest rebuilds a net/http request, used by the signature codec.
func (r *Request) HTTPRequest() *http.Request {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	req := &http.Request{
		Method: r.Method,
		URL:    r.URL,
		Header: http.Header{},
		Host:   host,
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}
	if r.Body != nil {
		req.Body = io.NopCloser(bytes.NewReader(r.Body))
		req.ContentLength = int64(len(r.Body))
	}
	return req
}

// Response is the engine's transport-neutral response. A nil Body stays
// nil. AfterFlush, when set, is detached work the transport must run once
// the response has been fully written; its failure must never alter the
// already-sent status.
type Response struct {
	Status     int
	Header     map[string]string
	Body       []byte
	AfterFlush func()
}

// HandlerFunc handles one protocol operation for a validated owner.
type HandlerFunc func(ctx context.Context, req *Request, owner *Owner) (*Response, error)

// Route is one entry of the engine's dispatch table. Auth marks operations
// that require the caller's verified identity to equal the owner's.
type Route struct {
	Method  string
	Path    string
	Auth    bool
	Handler HandlerFunc
}

// Engine is the federation protocol engine. Construct one per process with
// NewEngine and hand its route table to the transport bridge; it keeps no
// global state.
type Engine struct {
	baseURL  string
	log      *zap.Logger
	auth     AuthFetcher
	client   Doer
	store    *Store
	kv       kv.Store
	actorURI ActorURIStrategy
	timeout  time.Duration
	metrics  *Collector

	// acceptDispatched is signalled after every post-response Accept
	// delivery attempt. Tests use it to wait for the detached task.
	acceptDispatched chan struct{}
}

// Options configures a new Engine. BaseURL, Logger and Auth are required;
// the rest default to sensible implementations.
type Options struct {
	BaseURL string
	Logger  *zap.Logger
	Auth    AuthFetcher

	// Client performs unauthenticated outbound fetches (remote actors,
	// remote inboxes). Defaults to an SSRF-guarded client.
	Client Doer

	// KV backs transient dispatch bookkeeping. Defaults to in-memory.
	KV kv.Store

	// ActorURIStrategy overrides the canonical local path scheme.
	ActorURIStrategy ActorURIStrategy

	// FetchTimeout bounds every outbound fetch. Defaults to 10s.
	FetchTimeout time.Duration

	// Metrics receives engine counters. Optional.
	Metrics *Collector
}

// NewSafeClient returns the default outbound HTTP client. It refuses
// private, loopback and link-local destinations, which keeps remote actor
// URIs from reaching internal services.
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		Build()

	return safeurl.Client(config).Client
}

func NewEngine(opts Options) *Engine {
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = NewSafeClient(opts.FetchTimeout)
	}
	if opts.KV == nil {
		opts.KV = kv.NewMemory()
	}
	if opts.ActorURIStrategy == nil {
		opts.ActorURIStrategy = DefaultActorURIStrategy
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Engine{
		baseURL:          strings.TrimSuffix(opts.BaseURL, "/"),
		log:              opts.Logger,
		auth:             opts.Auth,
		client:           opts.Client,
		kv:               opts.KV,
		actorURI:         opts.ActorURIStrategy,
		timeout:          opts.FetchTimeout,
		metrics:          opts.Metrics,
		acceptDispatched: make(chan struct{}, 16),
	}
	e.store = &Store{auth: opts.Auth, issuer: e.baseURL, timeout: opts.FetchTimeout}
	return e
}

// BaseURL returns the agent's base URL without a trailing slash.
func (e *Engine) BaseURL() string { return e.baseURL }

// LocalURI applies the configured actor URI strategy.
func (e *Engine) LocalURI(actorURI, resource string) string {
	return e.actorURI(e.baseURL, actorURI, resource)
}

// AcceptDispatched exposes the detached-delivery signal for tests.
func (e *Engine) AcceptDispatched() <-chan struct{} { return e.acceptDispatched }

// Routes returns the engine's dispatch table. The transport bridge
// registers these; the engine never touches the host framework.
func (e *Engine) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/users/:actor/inbox", Handler: e.HandleInbox},
		{Method: http.MethodPost, Path: "/users/:actor/outbox", Auth: true, Handler: e.HandleOutbox},
		{Method: http.MethodGet, Path: "/users/:actor/followers", Handler: e.HandleFollowers},
		{Method: http.MethodGet, Path: "/users/:actor/following", Handler: e.HandleFollowing},
		{Method: http.MethodGet, Path: "/users/:actor", Handler: e.HandleActor},
	}
}

func (e *Engine) signalAcceptDispatched() {
	select {
	case e.acceptDispatched <- struct{}{}:
	default:
	}
}

// outboundContext derives a bounded context for a detached outbound task.
func (e *Engine) outboundContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.timeout)
}
