package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/solipub/solipub/activitypub"
)

// HandleSetup serves plain-text setup instructions. With query
// parameters filled in, the instructions become copy-pasteable for the
// operator's own pod.
func HandleSetup(c *gin.Context, baseURL string) {
	webID := orPlaceholder(c.Query("webid"), "{your webId}")
	actor := orPlaceholder(c.Query("actor"), "{your actor URI}")
	pod := orPlaceholder(c.Query("pod"), "{your storage root}")
	username := orPlaceholder(c.Query("username"), "{your username}")
	pubkey := orPlaceholder(c.Query("pubkey"), "{your PEM public key}")

	if !strings.HasSuffix(pod, "/") {
		pod += "/"
	}

	enc := activitypub.EncodeActorURI(actor)

	var b strings.Builder
	fmt.Fprintf(&b, "This server federates a personal data store with ActivityPub.\n\n")
	fmt.Fprintf(&b, "To connect your pod, three documents need to be in place.\n\n")

	fmt.Fprintf(&b, "1. Link your identity to your actor. Add to %s:\n\n", webID)
	fmt.Fprintf(&b, "   <%s> <%shasActor> <%s> .\n\n", webID, activitypub.SoapNS, actor)

	fmt.Fprintf(&b, "2. Publish the actor document at %s:\n\n", actor)
	fmt.Fprintf(&b, `   {
     "@context": ["https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"],
     "id": "%s",
     "type": "Person",
     "preferredUsername": "%s",
     "inbox": "%s/users/%s/inbox",
     "outbox": "%s/users/%s/outbox",
     "followers": "%s/users/%s/followers",
     "following": "%s/users/%s/following",
     "soap:isActorOf": "%s",
     "soap:storage": "%s",
     "publicKey": {
       "id": "%s#main-key",
       "owner": "%s",
       "publicKeyPem": "%s"
     }
   }
`,
		actor, username,
		baseURL, enc, baseURL, enc, baseURL, enc, baseURL, enc,
		webID, pod,
		actor, actor, pubkey)

	fmt.Fprintf(&b, "\n3. Store your private key at %skeys/private.pem.\n", pod)
	fmt.Fprintf(&b, "   Keep it readable only by you; this server reads it through your\n")
	fmt.Fprintf(&b, "   authorized session to sign outgoing activities.\n\n")

	fmt.Fprintf(&b, "Your federated endpoints:\n")
	fmt.Fprintf(&b, "  inbox:     %s/users/%s/inbox\n", baseURL, enc)
	fmt.Fprintf(&b, "  outbox:    %s/users/%s/outbox\n", baseURL, enc)
	fmt.Fprintf(&b, "  followers: %s/users/%s/followers\n", baseURL, enc)
	fmt.Fprintf(&b, "  following: %s/users/%s/following\n", baseURL, enc)

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(b.String()))
}

func orPlaceholder(v, placeholder string) string {
	if v == "" {
		return placeholder
	}
	return v
}
