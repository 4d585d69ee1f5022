// Command server runs the identity-propagation gateway: it validates caller
// credentials, performs On-Behalf-Of exchanges, invokes the downstream data
// agent, and serves both the synchronous browser path and the conversational
// channel path.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fabricobo/internal/agent"
	assistanthandler "fabricobo/internal/assistant/handler"
	assistantmetrics "fabricobo/internal/assistant/metrics"
	assistantservice "fabricobo/internal/assistant/service"
	"fabricobo/internal/auth/keys"
	authmetrics "fabricobo/internal/auth/metrics"
	"fabricobo/internal/auth/obo"
	"fabricobo/internal/auth/validator"
	"fabricobo/internal/bot/connector"
	bothandler "fabricobo/internal/bot/handler"
	botmetrics "fabricobo/internal/bot/metrics"
	"fabricobo/internal/bot/tokenstore"
	"fabricobo/internal/entitlement"
	"fabricobo/internal/platform/config"
	"fabricobo/internal/platform/health"
	"fabricobo/internal/platform/logger"
	"fabricobo/internal/platform/tracer"
	httptransport "fabricobo/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.Server.LogLevel)

	log.Info("initializing gateway",
		"addr", cfg.Server.Addr,
		"tenant_id", cfg.AzureAD.TenantID,
		"named_agent", cfg.Foundry.AgentName != "")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	authM := authmetrics.New(registry)
	botM := botmetrics.New(registry)
	assistantM := assistantmetrics.New(registry)
	tr := tracer.NewOTel()

	keyCache := keys.New(cfg.AzureAD.Instance, cfg.AzureAD.TenantID, log, keys.WithMetrics(authM))
	credentials := validator.New(keyCache, cfg.AzureAD.Issuers(), cfg.AzureAD.Audiences(), log,
		validator.WithMetrics(authM))
	exchanger := obo.ForApp(cfg.AzureAD.Authority(), cfg.AzureAD.ClientID, cfg.AzureAD.ClientSecret,
		obo.DefaultScope, log, obo.WithMetrics(authM))

	entitlements, err := entitlement.NewStaticService(cfg.Server.EntitlementUsersJSON, log)
	if err != nil {
		log.Error("invalid entitlement configuration", "error", err)
		os.Exit(1)
	}

	invoker := agent.New(agent.Config{
		ProjectEndpoint:     cfg.Foundry.ProjectEndpoint,
		APIVersion:          cfg.Foundry.APIVersion,
		ModelDeploymentName: cfg.Foundry.ModelDeploymentName,
		Instructions:        cfg.Foundry.Instructions,
		FabricConnectionID:  cfg.Foundry.FabricConnectionID,
		AgentName:           cfg.Foundry.AgentName,
		ResponseTimeout:     cfg.Foundry.ResponseTimeout,
	}, log, agent.WithTracer(tr))

	replies := connector.New(cfg.Bot.AppID, cfg.Bot.AppPassword, cfg.Bot.AppTenantID, log,
		connector.WithMetrics(botM), connector.WithTracer(tr))
	vault := tokenstore.New(replies.TokenSource(), log, tokenstore.WithMetrics(botM))

	askService := assistantservice.New(entitlements, exchanger, invoker, log,
		assistantservice.WithMetrics(assistantM), assistantservice.WithTracer(tr))
	assistantH := assistanthandler.New(credentials, askService, assistanthandler.SPAConfig{
		TenantID:      cfg.SPAAuth.TenantID,
		SPAClientID:   cfg.SPAAuth.SPAClientID,
		APIClientID:   cfg.SPAAuth.APIClientID,
		TestUsersJSON: cfg.SPAAuth.TestUsersJSON,
	}, log)
	botH := bothandler.New(replies, vault, exchanger, invoker, entitlements,
		cfg.Bot.OAuthConnectionName, log,
		bothandler.WithMetrics(botM), bothandler.WithTracer(tr))

	healthH := health.New("gateway")
	healthH.RegisterCheck("identity_provider_config", func() error {
		if cfg.AzureAD.TenantID == "" || cfg.AzureAD.ClientID == "" {
			return errors.New("identity provider settings incomplete")
		}
		return nil
	})
	healthH.RegisterCheck("agent_config", func() error {
		if cfg.Foundry.ProjectEndpoint == "" {
			return errors.New("agent project endpoint not configured")
		}
		return nil
	})

	router := httptransport.NewRouter(httptransport.Deps{
		Assistant: assistantH,
		Bot:       botH,
		Health:    healthH,
		Registry:  registry,
		CORS:      cfg.CORS.Origins(),
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
