package web

import (
	"fmt"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solipub/solipub/activitypub"
	"github.com/solipub/solipub/util"
)

// NewRouter wires the engine's route table into a gin engine behind the
// usual middleware stack. Raw-path routing is on so percent-encoded
// actor URIs stay single path segments through dispatch.
func NewRouter(conf *util.AppConfig, log *zap.Logger, engine *activitypub.Engine, verifier IdentityVerifier, gatherer prometheus.Gatherer) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(gzip.Gzip(gzip.DefaultCompression))
	g.UseRawPath = true
	g.UnescapePathValues = false

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/", func(c *gin.Context) {
		HandleSetup(c, conf.Conf.BaseUrl)
	})

	if gatherer != nil {
		g.GET("/metrics", gin.WrapH(activitypub.MetricsHandler(gatherer)))
	}

	// Stricter rate limit and a 1MB body cap on the federation surface.
	apLimit := RateLimitMiddleware(NewRateLimiter(rate.Limit(5), 10))
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	bridge := NewBridge(engine, verifier, log)
	for _, route := range engine.Routes() {
		g.Handle(route.Method, route.Path, apLimit, maxBodySize, bridge.Handle(route))
	}

	return g
}

// Serve builds the router and blocks serving it.
func Serve(conf *util.AppConfig, log *zap.Logger, engine *activitypub.Engine, verifier IdentityVerifier, gatherer prometheus.Gatherer) error {
	log.Info("starting federation server",
		zap.String("host", conf.Conf.Host),
		zap.Int("port", conf.Conf.HttpPort),
		zap.String("baseUrl", conf.Conf.BaseUrl))

	g := NewRouter(conf, log, engine, verifier, gatherer)
	return g.Run(fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort))
}
