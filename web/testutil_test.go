package web

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/solipub/solipub/activitypub"
	"github.com/solipub/solipub/domain"
	"github.com/solipub/solipub/util"
)

type passthroughAuth struct {
	client *http.Client
}

func (a passthroughAuth) AuthFetch(ctx context.Context, webID, issuer string) (activitypub.Doer, error) {
	return a.client, nil
}

// fixture is a single httptest server standing in for the owner's pod
// and the remote side, plus a router wired to a real engine.
type fixture struct {
	t          *testing.T
	pod        *httptest.Server
	mux        *http.ServeMux
	keys       *util.RsaKeyPair
	remoteKeys *util.RsaKeyPair

	mu      sync.Mutex
	docs    map[string][]byte
	puts    map[string][]byte
	patches map[string][]string
	inbox   chan []byte

	verifier *TokenVerifier
	router   http.Handler
	engine   *activitypub.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:       t,
		mux:     http.NewServeMux(),
		keys:    util.GeneratePemKeypair(),
		docs:    make(map[string][]byte),
		puts:    make(map[string][]byte),
		patches: make(map[string][]string),
		inbox:   make(chan []byte, 4),
	}
	f.pod = httptest.NewServer(f.mux)
	t.Cleanup(f.pod.Close)

	f.mux.HandleFunc("/pod/", func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			doc, ok := f.docs[r.URL.Path]
			f.mu.Unlock()
			if !ok {
				rw.WriteHeader(http.StatusNotFound)
				return
			}
			rw.Write(doc)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.puts[r.URL.Path] = body
			f.mu.Unlock()
			rw.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.patches[r.URL.Path] = append(f.patches[r.URL.Path], string(body))
			f.mu.Unlock()
			rw.WriteHeader(http.StatusResetContent)
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	f.mux.HandleFunc("/remote/inbox", func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.inbox <- body
		rw.WriteHeader(http.StatusAccepted)
	})

	f.engine = activitypub.NewEngine(activitypub.Options{
		BaseURL:      f.pod.URL,
		Logger:       zap.NewNop(),
		Auth:         passthroughAuth{client: f.pod.Client()},
		Client:       f.pod.Client(),
		FetchTimeout: 3 * time.Second,
	})

	f.verifier = NewTokenVerifier([]byte("test-secret"))

	conf := &util.AppConfig{}
	conf.Conf.BaseUrl = f.pod.URL
	f.router = NewRouter(conf, zap.NewNop(), f.engine, f.verifier, nil)

	return f
}

func (f *fixture) base() string { return f.pod.URL }

func (f *fixture) actorURI() string { return f.pod.URL + "/pod/profile/actor" }

func (f *fixture) webID() string { return f.pod.URL + "/pod/profile/card" }

func (f *fixture) storage() string { return f.pod.URL + "/pod/" }

func (f *fixture) remoteActorURI() string { return f.pod.URL + "/remote/actor" }

func (f *fixture) serveDoc(uri string, body []byte) {
	u, err := url.Parse(uri)
	if err != nil {
		f.t.Fatalf("bad doc uri %s: %v", uri, err)
	}
	f.mu.Lock()
	f.docs[u.Path] = body
	f.mu.Unlock()
}

// installOwner publishes a well-formed actor document, identity link and
// private key, making the owner pass validation.
func (f *fixture) installOwner() *domain.Actor {
	actorURI := f.actorURI()
	actor := &domain.Actor{
		ID:                actorURI,
		Type:              "Person",
		PreferredUsername: "owner",
		Inbox:             activitypub.DefaultActorURIStrategy(f.base(), actorURI, "inbox"),
		Outbox:            activitypub.DefaultActorURIStrategy(f.base(), actorURI, "outbox"),
		Followers:         activitypub.DefaultActorURIStrategy(f.base(), actorURI, "followers"),
		Following:         activitypub.DefaultActorURIStrategy(f.base(), actorURI, "following"),
		IsActorOf:         f.webID(),
		Storage:           f.storage(),
	}
	actor.PublicKey.ID = actorURI + "#main-key"
	actor.PublicKey.Owner = actorURI
	actor.PublicKey.PublicKeyPem = f.keys.Public

	doc, err := json.Marshal(actor)
	if err != nil {
		f.t.Fatalf("marshal actor: %v", err)
	}
	f.serveDoc(actorURI, doc)
	f.serveDoc(f.webID(), []byte(fmt.Sprintf("<%s> <%s> <%s> .\n", f.webID(), activitypub.HasActorPredicate, actorURI)))
	f.serveDoc(f.storage()+"keys/private.pem", []byte(f.keys.Private))

	return actor
}

// installRemote publishes a resolvable remote actor with an inbox and
// keeps its keypair so tests can sign deliveries as that actor.
func (f *fixture) installRemote() {
	f.remoteKeys = util.GeneratePemKeypair()
	doc := map[string]any{
		"id":    f.remoteActorURI(),
		"inbox": f.base() + "/remote/inbox",
		"publicKey": map[string]any{
			"id":           f.remoteActorURI() + "#main-key",
			"owner":        f.remoteActorURI(),
			"publicKeyPem": f.remoteKeys.Public,
		},
	}
	payload, _ := json.Marshal(doc)
	f.mux.HandleFunc("/remote/actor", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/activity+json")
		rw.Write(payload)
	})
}

// do routes a request through the gin router.
func (f *fixture) do(method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// signedDo routes a request carrying the remote actor's HTTP signature,
// the shape a federated peer's delivery takes: origin-form URL, the
// authority on Request.Host, no Host header.
func (f *fixture) signedDo(method, target string, body []byte) *httptest.ResponseRecorder {
	f.t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.Host)
	hash := sha256.Sum256(body)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(hash[:]))

	key, err := activitypub.ParsePrivateKey(f.remoteKeys.Private)
	if err != nil {
		f.t.Fatalf("parse remote key: %v", err)
	}
	if err := activitypub.SignRequest(req, key, f.remoteActorURI()+"#main-key"); err != nil {
		f.t.Fatalf("sign request: %v", err)
	}
	req.Header.Del("Host")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) patchBodies(docURL string) []string {
	u, _ := url.Parse(docURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.patches[u.Path]...)
}

func (f *fixture) actorPath(resource string) string {
	p := "/users/" + activitypub.EncodeActorURI(f.actorURI())
	if resource != "" {
		p += "/" + resource
	}
	return p
}

func (f *fixture) waitDelivery() []byte {
	f.t.Helper()
	select {
	case body := <-f.inbox:
		return body
	case <-time.After(3 * time.Second):
		f.t.Fatal("timed out waiting for a delivery")
		return nil
	}
}

func (f *fixture) putBody(docURL string) ([]byte, bool) {
	u, _ := url.Parse(docURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.puts[u.Path]
	return body, ok
}

func (f *fixture) bearer(webID string) map[string]string {
	f.t.Helper()
	token, err := f.verifier.IssueToken(webID)
	if err != nil {
		f.t.Fatalf("issue token: %v", err)
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/activity+json",
	}
}
