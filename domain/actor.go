package domain

import (
	"fmt"
	"strings"
)

// PublicKey is the signing key advertised in an actor document.
type PublicKey struct {
	ID           string `json:"id" validate:"required,url"`
	Owner        string `json:"owner,omitempty"`
	PublicKeyPem string `json:"publicKeyPem,omitempty"`
}

// Actor is an ActivityPub actor whose durable state lives in a personal
// data store. Storage is the trailing-slash container under which the
// followers/following graphs, keys and activities are kept. IsActorOf
// names the identity document (webId) of the person controlling the actor.
type Actor struct {
	Context           any       `json:"@context,omitempty"`
	ID                string    `json:"id" validate:"required,url"`
	Type              string    `json:"type,omitempty"`
	PreferredUsername string    `json:"preferredUsername,omitempty"`
	Inbox             string    `json:"inbox" validate:"required,url"`
	Outbox            string    `json:"outbox,omitempty" validate:"omitempty,url"`
	Followers         string    `json:"followers" validate:"required,url"`
	Following         string    `json:"following" validate:"required,url"`
	IsActorOf         string    `json:"soap:isActorOf" validate:"required,url"`
	Storage           string    `json:"soap:storage" validate:"required,url"`
	PublicKey         PublicKey `json:"publicKey"`
}

// Validate checks the structural shape of a full owner actor document.
func (a *Actor) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrActorMalformed, err)
	}
	if !strings.HasSuffix(a.Storage, "/") {
		return fmt.Errorf("%w: storage %q is not a container (missing trailing slash)", ErrActorMalformed, a.Storage)
	}
	return nil
}

// RemoteActor is the subset of an actor document the engine needs from
// federated peers: identity, inbox and verification key.
type RemoteActor struct {
	ID        string    `json:"id" validate:"required,url"`
	Inbox     string    `json:"inbox" validate:"required,url"`
	PublicKey PublicKey `json:"publicKey"`
}

// Validate checks the structural shape of a remote actor document.
func (a *RemoteActor) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrActorMalformed, err)
	}
	return nil
}
