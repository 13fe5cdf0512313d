package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/solipub/solipub/domain"
)

// FetchActor fetches a remote actor document: a single unauthenticated GET
// with no caching and no retries. Callers fan out or parallelize as
// needed.
func (e *Engine) FetchActor(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	body, err := e.fetchActorDocument(ctx, actorURI)
	if err != nil {
		return nil, err
	}

	var actor domain.RemoteActor
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrActorMalformed, actorURI, err)
	}
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", actorURI, err)
	}

	return &actor, nil
}

// FetchOwnerActor fetches an actor document and validates it against the
// full owner schema, including the storage and identity links.
func (e *Engine) FetchOwnerActor(ctx context.Context, actorURI string) (*domain.Actor, error) {
	body, err := e.fetchActorDocument(ctx, actorURI)
	if err != nil {
		return nil, err
	}

	var actor domain.Actor
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrActorMalformed, actorURI, err)
	}
	if err := actor.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", actorURI, err)
	}

	return &actor, nil
}

func (e *Engine) fetchActorDocument(ctx context.Context, actorURI string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrActorUnreachable, actorURI, err)
	}
	req.Header.Set("Accept", ContentTypeActivityJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrActorUnreachable, actorURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d", domain.ErrActorUnreachable, actorURI, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrActorUnreachable, actorURI, err)
	}

	return body, nil
}

// HandleActor serves the owner's actor document under its canonical
// local URI. The pod remains the authoritative copy; this endpoint just
// makes the local path scheme dereferenceable for remote servers.
func (e *Engine) HandleActor(ctx context.Context, req *Request, owner *Owner) (*Response, error) {
	doc, err := json.Marshal(owner.Actor)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actor: %w", err)
	}

	var body map[string]any
	if err := json.Unmarshal(doc, &body); err != nil {
		return nil, fmt.Errorf("failed to rebuild actor document: %w", err)
	}
	body["@context"] = []string{
		domain.ActivityStreamsContext,
		"https://w3id.org/security/v1",
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actor document: %w", err)
	}

	return &Response{
		Status: http.StatusOK,
		Header: map[string]string{"Content-Type": ContentTypeActivityJSON},
		Body:   payload,
	}, nil
}
