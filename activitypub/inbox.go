package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/solipub/solipub/domain"
)

// HandleInbox processes one signed inbound activity. The signature is
// verified against the signer's published key before the activity body
// is trusted, and the signer must be the actor the activity claims.
func (e *Engine) HandleInbox(ctx context.Context, req *Request, owner *Owner) (*Response, error) {
	httpReq := req.HTTPRequest()

	keyId, err := SignerKeyId(httpReq)
	if err != nil {
		return nil, err
	}

	signer, err := e.FetchActor(ctx, SignerURI(keyId))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignerUnresolved, err)
	}

	verified, err := VerifyRequest(httpReq, signer.PublicKey.PublicKeyPem)
	if err != nil {
		return nil, err
	}

	env, err := domain.PeekType(req.Body)
	if err != nil {
		return nil, err
	}
	if err := CheckActorBinding(verified, env.Actor); err != nil {
		return nil, err
	}

	e.metrics.InboxActivity(env.Type)

	switch env.Type {
	case "Follow":
		return e.receiveFollow(ctx, req.Body, owner, signer)
	case "Accept":
		return e.receiveAccept(ctx, req.Body, owner)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedActivity, env.Type)
	}
}

// receiveFollow records the new follower and schedules the Accept. The
// Accept is delivered only after the 200 for the Follow has been
// flushed, so the two requests never deadlock on single-threaded peers.
func (e *Engine) receiveFollow(ctx context.Context, body []byte, owner *Owner, signer *domain.RemoteActor) (*Response, error) {
	var follow domain.FollowActivity
	if err := json.Unmarshal(body, &follow); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrActivityInvalid, err)
	}
	if err := follow.Validate(); err != nil {
		return nil, err
	}

	if follow.Object != owner.Actor.ID {
		return nil, fmt.Errorf("%w: follow targets %s, inbox belongs to %s",
			domain.ErrActivityObjectMismatch, follow.Object, owner.Actor.ID)
	}

	docURL := owner.Actor.Storage + "followers"
	if err := e.store.InsertFollow(ctx, owner, docURL, follow.Actor, follow.Object); err != nil {
		return nil, err
	}

	e.log.Info("accepted follower",
		zap.String("follower", follow.Actor),
		zap.String("owner", owner.Actor.ID))

	return &Response{
		Status: http.StatusOK,
		AfterFlush: func() {
			defer e.signalAcceptDispatched()

			ctx, cancel := e.outboundContext()
			defer cancel()

			if err := e.SendAccept(ctx, owner, &follow, signer.Inbox); err != nil {
				e.log.Error("accept delivery failed",
					zap.String("inbox", signer.Inbox), zap.Error(err))
				e.metrics.DeliveryFailure()
				return
			}
			e.metrics.DeliverySuccess()
		},
	}, nil
}

// receiveAccept closes an outbound Follow handshake. The nested Follow
// must be one this owner actually sent: its id has to live under the
// owner's storage, and the stored activity must match the echo.
func (e *Engine) receiveAccept(ctx context.Context, body []byte, owner *Owner) (*Response, error) {
	var accept domain.AcceptActivity
	if err := json.Unmarshal(body, &accept); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrActivityInvalid, err)
	}
	if err := accept.Validate(); err != nil {
		return nil, err
	}

	follow := accept.Object
	if !strings.HasPrefix(follow.ID, owner.Actor.Storage) {
		return nil, fmt.Errorf("%w: accepted follow %s is not stored under %s",
			domain.ErrForeignActivity, follow.ID, owner.Actor.Storage)
	}

	stored, err := e.store.GetDocument(ctx, owner, follow.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: pending follow %s unavailable: %v",
			domain.ErrForeignActivity, follow.ID, err)
	}

	var pending domain.FollowActivity
	if err := json.Unmarshal(stored, &pending); err != nil {
		return nil, fmt.Errorf("%w: pending follow %s unreadable: %v",
			domain.ErrActivityMismatch, follow.ID, err)
	}
	if pending.Actor != follow.Actor || pending.Object != follow.Object {
		return nil, fmt.Errorf("%w: stored follow %s does not match the accepted copy",
			domain.ErrActivityMismatch, follow.ID)
	}

	if _, tracked, err := e.kv.Get("pending:" + follow.ID); err != nil {
		e.log.Warn("pending follow lookup failed", zap.Error(err))
	} else if !tracked {
		// A duplicate Accept, or the process restarted since the Follow
		// went out. The stored activity already proved the handshake is
		// ours, so this is informational only.
		e.log.Info("accept for untracked follow", zap.String("follow", follow.ID))
	}

	docURL := owner.Actor.Storage + "following"
	if err := e.store.InsertFollow(ctx, owner, docURL, pending.Actor, pending.Object); err != nil {
		return nil, err
	}

	if err := e.kv.Delete("pending:" + follow.ID); err != nil {
		e.log.Warn("failed to clear pending follow", zap.Error(err))
	}

	e.log.Info("follow accepted by remote",
		zap.String("followed", pending.Object),
		zap.String("owner", owner.Actor.ID))

	return &Response{Status: http.StatusOK}, nil
}
