// Package main is the entry point for the Gemini proxy.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/evanreyes/geminiproxy/internal/config"
	"github.com/evanreyes/geminiproxy/internal/geminiclient"
	"github.com/evanreyes/geminiproxy/internal/httpapi"
	"github.com/evanreyes/geminiproxy/internal/proxy"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the proxy's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clientID, clientSecret := geminiclient.OAuthCredentialsFromEnv()
	if clientID == "" || clientSecret == "" {
		log.Println("warning: GEMINI_OAUTH_CLIENT_ID/GEMINI_OAUTH_CLIENT_SECRET unset; token refresh will fail")
	}

	httpClient := &http.Client{Timeout: cfg.Upstream.Timeout}
	refresher := geminiclient.NewOAuthRefresher(clientID, clientSecret, httpClient)
	projectResolver := geminiclient.NewProjectResolver(cfg.Upstream.BaseURL, httpClient)

	tokens := proxy.NewTokenManager(refresher.Refresh, projectResolver.FetchProjectID)
	count, err := tokens.Load(cfg.Accounts.Dir)
	if err != nil {
		log.Fatalf("failed to load accounts: %v", err)
	}
	log.Printf("loaded %d account(s) from %s", count, cfg.Accounts.Dir)

	signatures := newSignatureCache(cfg)

	upstream := geminiclient.New(cfg.Upstream.BaseURL, httpClient)
	pipeline := proxy.NewPipeline(tokens, signatures, upstream, cfg.Models.Map)

	refresherTask := proxy.NewTokenRefresher(tokens, signatures, cfg.Refresh.Interval, cfg.Refresh.Ahead)
	stopRefresh, err := refresherTask.StartAutoRefresh(context.Background())
	if err != nil {
		log.Fatalf("failed to start token refresher: %v", err)
	}
	defer refresherTask.StopAutoRefresh(stopRefresh)

	srv := httpapi.New(pipeline, tokens)
	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("geminiproxy listening on %s", cfg.Server.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// newSignatureCache builds the in-memory cache unless an operator has
// configured a Redis address, in which case the cache is shared across
// replicas instead of replica-local.
func newSignatureCache(cfg *config.Config) *proxy.SignatureCache {
	if cfg.Signature.RedisAddr == "" {
		return proxy.NewSignatureCache(cfg.Signature.TTL)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Signature.RedisAddr})
	return proxy.NewSignatureCacheRedis(client, "geminiproxy:sig", cfg.Signature.TTL)
}
