package activitypub

const (
	// SoapNS is the vocabulary the identity document uses to link a person
	// to their actor.
	SoapNS = "https://w3id.org/soap#"

	// HasActorPredicate is the triple predicate asserting which actor an
	// identity controls.
	HasActorPredicate = SoapNS + "hasActor"

	// FollowsPredicate is the triple predicate recording a follow in the
	// owner's followers/following graphs.
	FollowsPredicate = "https://schema.org/follows"

	// ContentTypeActivityJSON is the media type of activity documents.
	ContentTypeActivityJSON = "application/activity+json"

	userAgent = "solipub/1.0 ActivityPub"
)
