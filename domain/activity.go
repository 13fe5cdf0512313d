package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	// ActivityStreamsContext is the JSON-LD context of every activity we emit.
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"

	// PublicAudience addresses an activity to the public collection.
	PublicAudience = "https://www.w3.org/ns/activitystreams#Public"
)

var validate = validator.New()

// Envelope carries the fields common to every activity, used to pick the
// concrete type before a full parse.
type Envelope struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Actor string `json:"actor"`
}

// Audience holds the ActivityStreams addressing fields.
type Audience struct {
	To  []string `json:"to,omitempty" validate:"omitempty,dive,url"`
	Bto []string `json:"bto,omitempty" validate:"omitempty,dive,url"`
	Cc  []string `json:"cc,omitempty" validate:"omitempty,dive,url"`
	Bcc []string `json:"bcc,omitempty" validate:"omitempty,dive,url"`
}

// All returns every addressed URI, in to/bto/cc/bcc order.
func (a Audience) All() []string {
	all := make([]string, 0, len(a.To)+len(a.Bto)+len(a.Cc)+len(a.Bcc))
	all = append(all, a.To...)
	all = append(all, a.Bto...)
	all = append(all, a.Cc...)
	all = append(all, a.Bcc...)
	return all
}

// FollowActivity is an ActivityPub Follow. Object is the URI of the actor
// being followed.
type FollowActivity struct {
	Context any    `json:"@context,omitempty"`
	ID      string `json:"id,omitempty" validate:"omitempty,url"`
	Type    string `json:"type" validate:"required,eq=Follow"`
	Actor   string `json:"actor" validate:"required,url"`
	Object  string `json:"object" validate:"required,url"`
	Audience
}

// Validate checks the structural shape of the Follow.
func (f *FollowActivity) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrActivityInvalid, err)
	}
	return nil
}

// AcceptActivity is an ActivityPub Accept confirming a Follow. The nested
// object is the Follow being accepted.
type AcceptActivity struct {
	Context any            `json:"@context,omitempty"`
	ID      string         `json:"id,omitempty" validate:"omitempty,url"`
	Type    string         `json:"type" validate:"required,eq=Accept"`
	Actor   string         `json:"actor" validate:"required,url"`
	Object  FollowActivity `json:"object"`
}

// Validate checks the structural shape of the Accept and its nested Follow.
func (a *AcceptActivity) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrActivityInvalid, err)
	}
	return nil
}

// NoteActivity is a Note posted through the outbox. The agent wraps it in a
// Create activity for delivery.
type NoteActivity struct {
	Context      any    `json:"@context,omitempty"`
	ID           string `json:"id,omitempty" validate:"omitempty,url"`
	Type         string `json:"type" validate:"required,eq=Note"`
	Content      string `json:"content" validate:"required,min=1,max=5000"`
	AttributedTo string `json:"attributedTo" validate:"required,url"`
	Published    string `json:"published,omitempty"`
	Actor        string `json:"actor,omitempty" validate:"omitempty,url"`
	Audience
}

// Validate checks the structural shape of the Note.
func (n *NoteActivity) Validate() error {
	if err := validate.Struct(n); err != nil {
		return fmt.Errorf("%w: %v", ErrActivityInvalid, err)
	}
	return nil
}

// CreateActivity wraps a Note for outbound delivery.
type CreateActivity struct {
	Context   any          `json:"@context,omitempty"`
	ID        string       `json:"id,omitempty"`
	Type      string       `json:"type"`
	Actor     string       `json:"actor"`
	Published string       `json:"published,omitempty"`
	Object    NoteActivity `json:"object"`
	Audience
}

// PeekType reads the envelope of a raw activity without validating it.
func PeekType(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrActivityInvalid, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrActivityInvalid)
	}
	return &env, nil
}
