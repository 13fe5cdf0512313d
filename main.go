package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/solipub/solipub/activitypub"
	"github.com/solipub/solipub/kv"
	"github.com/solipub/solipub/util"
	"github.com/solipub/solipub/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalln(err)
	}
	defer logger.Sync()

	secret := conf.Conf.AuthSecret
	if secret == "" {
		// A fresh secret per start invalidates tokens on restart, which
		// is fine for a single-operator instance.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			logger.Fatal("failed to generate auth secret", zap.Error(err))
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("no authSecret configured, generated an ephemeral one")
	}

	store, err := openKv(logger)
	if err != nil {
		logger.Fatal("failed to open kv store", zap.Error(err))
	}

	client := activitypub.NewSafeClient(10 * time.Second)
	registry := prometheus.NewRegistry()

	engine := activitypub.NewEngine(activitypub.Options{
		BaseURL: conf.Conf.BaseUrl,
		Logger:  logger,
		Auth:    &activitypub.BearerAuthFetcher{Client: client, Token: conf.Conf.PodToken},
		Client:  client,
		KV:      store,
		Metrics: activitypub.NewCollector(registry),
	})

	verifier := web.NewTokenVerifier([]byte(secret))

	startServing(conf, logger, engine, verifier, registry)
}

func openKv(logger *zap.Logger) (kv.Store, error) {
	configDir, err := util.GetConfigDir()
	if err != nil {
		logger.Warn("no config directory, keeping dispatch bookkeeping in memory", zap.Error(err))
		return kv.NewMemory(), nil
	}
	return kv.OpenSqlite(configDir + "/kv.db")
}

func startServing(conf *util.AppConfig, logger *zap.Logger, engine *activitypub.Engine, verifier web.IdentityVerifier, registry *prometheus.Registry) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Serve(conf, logger, engine, verifier, registry); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-done
	logger.Info("shutting down")
}
