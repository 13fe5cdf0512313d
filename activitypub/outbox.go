package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solipub/solipub/domain"
)

// HandleOutbox processes an activity posted by the owner's own client.
// The transport bridge has already proven the caller's identity equals
// the owner's; this handler only deals in content.
func (e *Engine) HandleOutbox(ctx context.Context, req *Request, owner *Owner) (*Response, error) {
	env, err := domain.PeekType(req.Body)
	if err != nil {
		return nil, err
	}

	e.metrics.OutboxActivity(env.Type)

	switch env.Type {
	case "Follow":
		return e.sendFollow(ctx, req.Body, owner)
	case "Note":
		return e.sendNote(ctx, req.Body, owner)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedActivity, env.Type)
	}
}

// sendFollow persists a pending Follow under the owner's storage and
// delivers it to the remote actor once the 201 has been flushed. A
// failed delivery leaves the pending document in place; it simply never
// gets accepted.
func (e *Engine) sendFollow(ctx context.Context, body []byte, owner *Owner) (*Response, error) {
	var follow domain.FollowActivity
	if err := json.Unmarshal(body, &follow); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrActivityInvalid, err)
	}
	if err := follow.Validate(); err != nil {
		return nil, err
	}

	if follow.Actor != owner.Actor.ID {
		return nil, fmt.Errorf("%w: follow names actor %s, outbox belongs to %s",
			domain.ErrActivityMismatch, follow.Actor, owner.Actor.ID)
	}

	follow.ID = owner.Actor.Storage + "activities/" + uuid.New().String()
	follow.Context = domain.ActivityStreamsContext

	doc, err := json.Marshal(follow)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal follow: %w", err)
	}
	if err := e.store.PutDocument(ctx, owner, follow.ID, ContentTypeActivityJSON, doc); err != nil {
		return nil, err
	}

	// Bookkeeping only; the pod document is the durable record.
	if err := e.kv.Set("pending:"+follow.ID, follow.Object); err != nil {
		e.log.Warn("failed to track pending follow", zap.Error(err))
	}

	e.log.Info("stored pending follow",
		zap.String("follow", follow.ID),
		zap.String("target", follow.Object))

	return &Response{
		Status: http.StatusCreated,
		Header: map[string]string{"Location": follow.ID},
		AfterFlush: func() {
			ctx, cancel := e.outboundContext()
			defer cancel()

			target, err := e.FetchActor(ctx, follow.Object)
			if err != nil {
				e.log.Error("follow target unreachable",
					zap.String("target", follow.Object), zap.Error(err))
				e.metrics.DeliveryFailure()
				return
			}
			if err := e.SendActivity(ctx, owner, follow, target.Inbox); err != nil {
				e.log.Error("follow delivery failed",
					zap.String("inbox", target.Inbox), zap.Error(err))
				e.metrics.DeliveryFailure()
				return
			}
			e.metrics.DeliverySuccess()
		},
	}, nil
}

// sendNote persists the Note in the owner's storage, then fans the
// wrapping Create out to every distinct remote inbox named by the
// audience. The followers collection URI in the audience expands to all
// current followers.
func (e *Engine) sendNote(ctx context.Context, body []byte, owner *Owner) (*Response, error) {
	var note domain.NoteActivity
	if err := json.Unmarshal(body, &note); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrActivityInvalid, err)
	}
	if note.AttributedTo == "" {
		note.AttributedTo = owner.Actor.ID
	}
	if err := note.Validate(); err != nil {
		return nil, err
	}

	noteId := fmt.Sprintf("%d__%s", time.Now().UnixMilli(), uuid.New().String())
	note.ID = owner.Actor.Storage + "things/" + noteId
	note.Context = domain.ActivityStreamsContext
	if note.Published == "" {
		note.Published = time.Now().UTC().Format(time.RFC3339)
	}

	doc, err := json.Marshal(note)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal note: %w", err)
	}
	if err := e.store.PutDocument(ctx, owner, note.ID, "application/ld+json", doc); err != nil {
		return nil, err
	}

	create := domain.CreateActivity{
		Context:   domain.ActivityStreamsContext,
		ID:        note.ID + "#create",
		Type:      "Create",
		Actor:     owner.Actor.ID,
		Published: note.Published,
		Object:    note,
		Audience:  note.Audience,
	}

	location := e.LocalURI(owner.Actor.ID, "things/"+noteId)

	e.log.Info("stored note", zap.String("note", note.ID))

	return &Response{
		Status: http.StatusCreated,
		Header: map[string]string{"Location": location},
		AfterFlush: func() {
			e.deliverCreate(owner, &create)
		},
	}, nil
}

// deliverCreate resolves the audience to a set of distinct inboxes and
// posts the Create to each. Deliveries run in parallel under per-inbox
// timeouts; one slow or dead recipient cannot starve the others.
// Delivery is best effort per inbox; failures are logged, never retried.
func (e *Engine) deliverCreate(owner *Owner, create *domain.CreateActivity) {
	inboxes := e.resolveAudience(owner, create)

	var wg sync.WaitGroup
	for inbox := range inboxes {
		wg.Add(1)
		go func(inbox string) {
			defer wg.Done()
			ctx, cancel := e.outboundContext()
			defer cancel()
			if err := e.SendActivity(ctx, owner, create, inbox); err != nil {
				e.log.Error("create delivery failed",
					zap.String("inbox", inbox), zap.Error(err))
				e.metrics.DeliveryFailure()
				return
			}
			e.metrics.DeliverySuccess()
		}(inbox)
	}
	wg.Wait()
}

// resolveAudience expands the Create's recipients to distinct inboxes.
func (e *Engine) resolveAudience(owner *Owner, create *domain.CreateActivity) map[string]struct{} {
	ctx, cancel := e.outboundContext()
	defer cancel()

	inboxes := make(map[string]struct{})
	for _, recipient := range create.All() {
		switch recipient {
		case domain.PublicAudience:
			// No inbox behind the public collection.
		case owner.Actor.Followers, e.LocalURI(owner.Actor.ID, "followers"):
			page, err := e.ListPage(ctx, owner, DirFollowers, nil)
			if err != nil {
				e.log.Error("failed to expand followers audience", zap.Error(err))
				continue
			}
			for _, item := range page.Items {
				if item.Inbox != "" {
					inboxes[item.Inbox] = struct{}{}
				}
			}
		default:
			actor, err := e.FetchActor(ctx, recipient)
			if err != nil {
				e.log.Warn("skipping unresolvable recipient",
					zap.String("recipient", recipient), zap.Error(err))
				continue
			}
			inboxes[actor.Inbox] = struct{}{}
		}
	}
	return inboxes
}
