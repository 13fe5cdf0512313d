package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knakk/rdf"

	"github.com/solipub/solipub/domain"
)

// Store reads and mutates the owner's personal data store over plain HTTP
// verbs through the authenticated fetch collaborator. The store's PATCH is
// an atomic insert; this client never does read-modify-write.
type Store struct {
	auth    AuthFetcher
	issuer  string
	timeout time.Duration
}

// insertPatch is the triple-insert body the store understands.
const insertPatch = `
    @prefix solid: <http://www.w3.org/ns/solid/terms#>.
    _:patch a solid:InsertDeletePatch;
      solid:inserts { <%s> <%s> <%s>. } .`

func (s *Store) client(ctx context.Context, owner *Owner) (Doer, error) {
	client, err := s.auth.AuthFetch(ctx, owner.WebID, s.issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: authenticated fetch unavailable: %v", domain.ErrStore, err)
	}
	return client, nil
}

// InsertFollow appends the triple (follower, follows, followed) to the
// graph document at docURL. Duplicate inserts are tolerated by the store;
// the engine does not deduplicate.
func (s *Store) InsertFollow(ctx context.Context, owner *Owner, docURL, follower, followed string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := s.client(ctx, owner)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(insertPatch, follower, FollowsPredicate, followed)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, docURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	req.Header.Set("Content-Type", "text/n3")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: patch %s: %v", domain.ErrStore, docURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: patch %s returned status %d", domain.ErrStore, docURL, resp.StatusCode)
	}

	return nil
}

// ReadGraph fetches the graph document at docURL and returns its triples.
// A missing document is an empty graph, not an error.
func (s *Store) ReadGraph(ctx context.Context, owner *Owner, docURL string) ([]rdf.Triple, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := s.client(ctx, owner)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	req.Header.Set("Accept", "text/turtle")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrStore, docURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: get %s returned status %d", domain.ErrStore, docURL, resp.StatusCode)
	}

	triples, err := decodeGraph(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrStore, docURL, err)
	}

	return triples, nil
}

// PutDocument creates or replaces the document at docURL.
func (s *Store) PutDocument(ctx context.Context, owner *Owner, docURL, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := s.client(ctx, owner)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, docURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", domain.ErrStore, docURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: put %s returned status %d", domain.ErrStore, docURL, resp.StatusCode)
	}

	return nil
}

// GetDocument fetches the raw document at docURL.
func (s *Store) GetDocument(ctx context.Context, owner *Owner, docURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := s.client(ctx, owner)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStore, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrStore, docURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: get %s returned status %d", domain.ErrStore, docURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrStore, docURL, err)
	}

	return body, nil
}

// PrivateKey fetches and parses the owner's signing key from
// {storage}keys/private.pem.
func (s *Store) PrivateKey(ctx context.Context, owner *Owner) (*rsa.PrivateKey, error) {
	pemBytes, err := s.GetDocument(ctx, owner, owner.Actor.Storage+"keys/private.pem")
	if err != nil {
		return nil, err
	}

	key, err := ParsePrivateKey(string(pemBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", domain.ErrStore, err)
	}

	return key, nil
}

// decodeGraph parses an RDF document, picking the serialization from the
// content type. Pods answer in turtle unless asked otherwise.
func decodeGraph(r io.Reader, contentType string) ([]rdf.Triple, error) {
	format := rdf.Turtle
	if strings.Contains(contentType, "n-triples") {
		format = rdf.NTriples
	}

	dec := rdf.NewTripleDecoder(r, format)
	return dec.DecodeAll()
}

// iriValue extracts the raw IRI from an RDF term.
func iriValue(term rdf.Term) string {
	s := term.Serialize(rdf.NTriples)
	return strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
}
