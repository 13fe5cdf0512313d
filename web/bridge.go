package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/solipub/solipub/activitypub"
	"github.com/solipub/solipub/domain"
)

// Bridge adapts gin requests to the engine's transport-neutral contract
// and maps engine errors back to HTTP statuses. The engine never sees
// gin; the bridge never interprets activities.
type Bridge struct {
	engine   *activitypub.Engine
	verifier IdentityVerifier
	log      *zap.Logger
}

func NewBridge(engine *activitypub.Engine, verifier IdentityVerifier, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{engine: engine, verifier: verifier, log: log}
}

// Handle wraps one engine route as a gin handler.
func (b *Bridge) Handle(route activitypub.Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The read endpoints only speak JSON-family representations; a
		// client asking exclusively for something else gets a 406 before
		// any pod round trip.
		if c.Request.Method == http.MethodGet && !acceptsActivityJSON(c.GetHeader("Accept")) {
			c.JSON(http.StatusNotAcceptable, gin.H{"error": "collection endpoints only produce application/activity+json"})
			return
		}

		// The :actor segment arrives still percent-encoded; the router
		// runs with raw paths so encoded slashes survive dispatch.
		actorURI, err := url.PathUnescape(c.Param("actor"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed actor path segment"})
			return
		}

		ctx := c.Request.Context()

		owner, err := b.engine.ValidateOwner(ctx, actorURI)
		if err != nil {
			b.log.Warn("owner validation failed",
				zap.String("actor", actorURI), zap.Error(err))
			c.JSON(domain.StatusCode(err), gin.H{"error": err.Error()})
			return
		}

		if route.Auth {
			webID, err := b.verifier.VerifyIdentity(c.Request)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			if webID != owner.WebID {
				c.JSON(http.StatusForbidden, gin.H{"error": "authenticated identity does not own this actor"})
				return
			}
		}

		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		if len(body) == 0 {
			body = nil
		}

		// net/http promotes the Host header onto Request.Host and leaves
		// URL.Host empty for origin-form requests; carry it explicitly so
		// signature verification sees the authority the peer signed.
		req := &activitypub.Request{
			Method: c.Request.Method,
			URL:    c.Request.URL,
			Host:   c.Request.Host,
			Header: activitypub.FoldHeaders(c.Request.Header),
			Body:   body,
		}

		resp, err := route.Handler(ctx, req, owner)
		if err != nil {
			b.log.Warn("request failed",
				zap.String("path", c.FullPath()),
				zap.String("actor", actorURI),
				zap.Error(err))
			c.JSON(domain.StatusCode(err), gin.H{"error": err.Error()})
			return
		}

		b.write(c, resp)

		// Detached work runs only once the response is on the wire, so a
		// peer that serializes its requests can answer the follow-up.
		if resp.AfterFlush != nil {
			go resp.AfterFlush()
		}
	}
}

var jsonMediaTypes = []string{
	"*/*",
	"application/*",
	"application/json",
	"application/activity+json",
	"application/ld+json",
}

// acceptsActivityJSON reports whether the Accept header admits a
// JSON-family representation. An absent header accepts anything.
func acceptsActivityJSON(accept string) bool {
	if strings.TrimSpace(accept) == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		for _, known := range jsonMediaTypes {
			if strings.EqualFold(mediaType, known) {
				return true
			}
		}
	}
	return false
}

func (b *Bridge) write(c *gin.Context, resp *activitypub.Response) {
	for k, v := range resp.Header {
		c.Header(k, v)
	}
	if resp.Body == nil {
		c.Status(resp.Status)
		c.Writer.WriteHeaderNow()
		return
	}
	contentType := resp.Header["Content-Type"]
	if contentType == "" {
		contentType = activitypub.ContentTypeActivityJSON
	}
	c.Data(resp.Status, contentType, resp.Body)
}
