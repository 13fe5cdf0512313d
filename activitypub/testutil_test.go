package activitypub

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

	"github.com/solipub/solipub/domain"
	"github.com/solipub/solipub/util"
)

// staticAuth hands every caller the same client. Tests run against
// httptest pods that do not check authorization.
type staticAuth struct {
	client Doer
}

func (a staticAuth) AuthFetch(ctx context.Context, webID, issuer string) (Doer, error) {
	return a.client, nil
}

type deliveredActivity struct {
	request *http.Request
	body    []byte
}

// testWorld is one httptest server standing in for the owner's pod and
// every remote server at once, dispatched by path.
type testWorld struct {
	t   *testing.T
	srv *httptest.Server
	mux *http.ServeMux

	ownerKeys  *util.RsaKeyPair
	remoteKeys *util.RsaKeyPair

	mu      sync.Mutex
	docs    map[string][]byte // path -> document, served on GET
	patches map[string][]string
	puts    map[string][]byte

	inbox chan deliveredActivity
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()

	w := &testWorld{
		t:          t,
		mux:        http.NewServeMux(),
		ownerKeys:  util.GeneratePemKeypair(),
		remoteKeys: util.GeneratePemKeypair(),
		docs:       make(map[string][]byte),
		patches:    make(map[string][]string),
		puts:       make(map[string][]byte),
		inbox:      make(chan deliveredActivity, 8),
	}
	w.srv = httptest.NewServer(w.mux)
	t.Cleanup(w.srv.Close)

	// The pod: GET serves documents, PATCH records triple inserts, PUT
	// records replacements.
	w.mux.HandleFunc("/pod/", func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.mu.Lock()
			doc, ok := w.docs[r.URL.Path]
			w.mu.Unlock()
			if !ok {
				rw.WriteHeader(http.StatusNotFound)
				return
			}
			if bytes.HasPrefix(bytes.TrimSpace(doc), []byte("@prefix")) || bytes.Contains(doc, []byte("schema.org/follows")) {
				rw.Header().Set("Content-Type", "text/turtle")
			}
			rw.Write(doc)
		case http.MethodPatch:
			body, _ := io.ReadAll(r.Body)
			w.mu.Lock()
			w.patches[r.URL.Path] = append(w.patches[r.URL.Path], string(body))
			w.mu.Unlock()
			rw.WriteHeader(http.StatusResetContent)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			w.mu.Lock()
			w.puts[r.URL.Path] = body
			w.mu.Unlock()
			rw.WriteHeader(http.StatusCreated)
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// A generic remote inbox. Deliveries land on the inbox channel.
	w.mux.HandleFunc("/remote/inbox", func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.inbox <- deliveredActivity{request: r, body: body}
		rw.WriteHeader(http.StatusAccepted)
	})

	return w
}

func (w *testWorld) base() string { return w.srv.URL }

func (w *testWorld) storage() string { return w.srv.URL + "/pod/" }

func (w *testWorld) ownerActorURI() string { return w.srv.URL + "/pod/profile/actor" }

func (w *testWorld) webID() string { return w.srv.URL + "/pod/profile/card" }

func (w *testWorld) remoteActorURI() string { return w.srv.URL + "/remote/actor" }

func (w *testWorld) remoteInboxURI() string { return w.srv.URL + "/remote/inbox" }

// serveDoc registers a document under the pod.
func (w *testWorld) serveDoc(uri string, body []byte) {
	u, err := url.Parse(uri)
	if err != nil {
		w.t.Fatalf("bad doc uri %s: %v", uri, err)
	}
	w.mu.Lock()
	w.docs[u.Path] = body
	w.mu.Unlock()
}

// serveJSON registers a handler answering with a fixed JSON document.
func (w *testWorld) serveJSON(path string, doc any) {
	payload, err := json.Marshal(doc)
	if err != nil {
		w.t.Fatalf("marshal %s: %v", path, err)
	}
	w.mux.HandleFunc(path, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", ContentTypeActivityJSON)
		rw.Write(payload)
	})
}

func (w *testWorld) patchBodies(docURL string) []string {
	u, _ := url.Parse(docURL)
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.patches[u.Path]...)
}

func (w *testWorld) putBody(docURL string) ([]byte, bool) {
	u, _ := url.Parse(docURL)
	w.mu.Lock()
	defer w.mu.Unlock()
	body, ok := w.puts[u.Path]
	return body, ok
}

func (w *testWorld) waitDelivery() deliveredActivity {
	w.t.Helper()
	select {
	case d := <-w.inbox:
		return d
	case <-time.After(3 * time.Second):
		w.t.Fatal("timed out waiting for a delivery")
		return deliveredActivity{}
	}
}

// owner builds a validated Owner directly, skipping ValidateOwner.
func (w *testWorld) owner() *Owner {
	return &Owner{
		WebID: w.webID(),
		Actor: w.ownerActorDoc(),
	}
}

func (w *testWorld) ownerActorDoc() *domain.Actor {
	actorURI := w.ownerActorURI()
	actor := &domain.Actor{
		ID:                actorURI,
		Type:              "Person",
		PreferredUsername: "owner",
		Inbox:             DefaultActorURIStrategy(w.base(), actorURI, "inbox"),
		Outbox:            DefaultActorURIStrategy(w.base(), actorURI, "outbox"),
		Followers:         DefaultActorURIStrategy(w.base(), actorURI, "followers"),
		Following:         DefaultActorURIStrategy(w.base(), actorURI, "following"),
		IsActorOf:         w.webID(),
		Storage:           w.storage(),
	}
	actor.PublicKey.ID = actorURI + "#main-key"
	actor.PublicKey.Owner = actorURI
	actor.PublicKey.PublicKeyPem = w.ownerKeys.Public
	return actor
}

func (w *testWorld) remoteActorDoc() *domain.RemoteActor {
	actor := &domain.RemoteActor{
		ID:    w.remoteActorURI(),
		Inbox: w.remoteInboxURI(),
	}
	actor.PublicKey.ID = w.remoteActorURI() + "#main-key"
	actor.PublicKey.Owner = w.remoteActorURI()
	actor.PublicKey.PublicKeyPem = w.remoteKeys.Public
	return actor
}

// announceRemoteActor makes the remote actor document fetchable and the
// owner's private key available for Accept signing.
func (w *testWorld) announceRemoteActor() {
	w.serveJSON("/remote/actor", w.remoteActorDoc())
	w.serveDoc(w.storage()+"keys/private.pem", []byte(w.ownerKeys.Private))
}

func (w *testWorld) engine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(Options{
		BaseURL:      w.base(),
		Logger:       zap.NewNop(),
		Auth:         staticAuth{client: w.srv.Client()},
		Client:       w.srv.Client(),
		FetchTimeout: 3 * time.Second,
	})
}

// signedRequest builds an engine Request carrying a valid HTTP signature
// over the given body, signed with pemKey under keyId.
func signedRequest(t *testing.T, target string, body []byte, pemKey, keyId string) *Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", ContentTypeActivityJSON)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	hash := sha256.Sum256(body)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(hash[:]))

	key, err := ParsePrivateKey(pemKey)
	if err != nil {
		t.Fatalf("parse signing key: %v", err)
	}
	if err := SignRequest(req, key, keyId); err != nil {
		t.Fatalf("sign request: %v", err)
	}

	// Servers promote the Host header onto Request.Host and hand handlers
	// an origin-form URL; mirror that shape so verification has to rely on
	// the carried Host, exactly as it does behind a real transport.
	req.Header.Del("Host")
	return &Request{
		Method: req.Method,
		URL:    &url.URL{Path: req.URL.Path, RawQuery: req.URL.RawQuery},
		Host:   req.URL.Host,
		Header: FoldHeaders(req.Header),
		Body:   body,
	}
}

// unsignedRequest builds an engine Request with no signature at all.
func unsignedRequest(target string, body []byte) *Request {
	u, _ := url.Parse(target)
	return &Request{
		Method: http.MethodPost,
		URL:    u,
		Header: map[string]string{"Content-Type": ContentTypeActivityJSON},
		Body:   body,
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// followersTurtle renders a followers graph document.
func followersTurtle(owner string, followers ...string) []byte {
	var buf bytes.Buffer
	for _, f := range followers {
		fmt.Fprintf(&buf, "<%s> <%s> <%s> .\n", f, FollowsPredicate, owner)
	}
	return buf.Bytes()
}

// followingTurtle renders a following graph document.
func followingTurtle(owner string, followed ...string) []byte {
	var buf bytes.Buffer
	for _, f := range followed {
		fmt.Fprintf(&buf, "<%s> <%s> <%s> .\n", owner, FollowsPredicate, f)
	}
	return buf.Bytes()
}
