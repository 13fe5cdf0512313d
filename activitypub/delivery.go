package activitypub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solipub/solipub/domain"
)

// SendActivity signs an activity with the owner's pod key and POSTs it
// to a remote inbox.
func (e *Engine) SendActivity(ctx context.Context, owner *Owner, activity any, inboxURI string) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	hash := sha256.Sum256(activityJSON)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequestWithContext(ctx, "POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", ContentTypeActivityJSON)
	req.Header.Set("Accept", ContentTypeActivityJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	privateKey, err := e.store.PrivateKey(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to read signing key: %w", err)
	}

	if err := SignRequest(req, privateKey, owner.Actor.PublicKey.ID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	e.log.Info("delivered activity",
		zap.String("inbox", inboxURI),
		zap.Int("status", resp.StatusCode))
	return nil
}

// SendAccept delivers an Accept for a received Follow back to the
// follower's inbox.
func (e *Engine) SendAccept(ctx context.Context, owner *Owner, follow *domain.FollowActivity, inboxURI string) error {
	accept := domain.AcceptActivity{
		Context: domain.ActivityStreamsContext,
		ID:      owner.Actor.ID + "#accepts/" + uuid.New().String(),
		Type:    "Accept",
		Actor:   owner.Actor.ID,
		Object:  *follow,
	}
	return e.SendActivity(ctx, owner, accept, inboxURI)
}
