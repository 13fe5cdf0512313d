package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/solipub/solipub/domain"
)

// Owner is a validated local actor together with the identity that
// controls it. It lives for the duration of one request.
type Owner struct {
	WebID string
	Actor *domain.Actor
}

// ValidateOwner resolves the addressed actor and confirms the mutual link
// between the actor document and the identity document. It is pure with
// respect to engine state; callers map ErrOwnerMisconfigured to a
// 400-class response.
func (e *Engine) ValidateOwner(ctx context.Context, actorURI string) (*Owner, error) {
	// An owner whose own document cannot be fetched is a setup problem
	// with the addressed actor, not a bad upstream.
	actor, err := e.FetchOwnerActor(ctx, actorURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOwnerMisconfigured, err)
	}

	if actor.ID != actorURI {
		return nil, fmt.Errorf("%w: actor document at %s declares id %s", domain.ErrOwnerMisconfigured, actorURI, actor.ID)
	}

	// The collection URIs third parties discover through the actor must
	// point back at this agent, under the canonical path scheme.
	for resource, actual := range map[string]string{
		"followers": actor.Followers,
		"following": actor.Following,
		"inbox":     actor.Inbox,
	} {
		expected := e.LocalURI(actorURI, resource)
		if actual != expected {
			return nil, fmt.Errorf("%w: actor %s of %s is %s, expected %s",
				domain.ErrOwnerMisconfigured, resource, actorURI, actual, expected)
		}
	}

	webID := actor.IsActorOf
	if err := e.checkIdentityActorLink(ctx, webID, actorURI); err != nil {
		return nil, err
	}

	return &Owner{WebID: webID, Actor: actor}, nil
}

// checkIdentityActorLink fetches the identity document and asserts it
// links back to the actor with the has-actor predicate.
func (e *Engine) checkIdentityActorLink(ctx context.Context, webID, actorURI string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, webID, nil)
	if err != nil {
		return fmt.Errorf("%w: identity document %s: %v", domain.ErrOwnerMisconfigured, webID, err)
	}
	req.Header.Set("Accept", "text/turtle")
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: identity document %s: %v", domain.ErrOwnerMisconfigured, webID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: identity document %s returned status %d", domain.ErrOwnerMisconfigured, webID, resp.StatusCode)
	}

	triples, err := decodeGraph(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("%w: identity document %s: %v", domain.ErrOwnerMisconfigured, webID, err)
	}

	var linked []string
	for _, t := range triples {
		if iriValue(t.Subj) == webID && iriValue(t.Pred) == HasActorPredicate {
			linked = append(linked, iriValue(t.Obj))
		}
	}

	for _, l := range linked {
		if l == actorURI {
			return nil
		}
	}

	// Name expected vs actual so the operator can fix the setup.
	return fmt.Errorf("%w: identity %s does not link to the actor. Expected: %s. Actual: %s",
		domain.ErrOwnerMisconfigured, webID, strings.Join(linked, ","), actorURI)
}
