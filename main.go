package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	domainx "github.com/kwkraus/fleet-assistant/agent/agents/domain"
	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
	coordinatorx "github.com/kwkraus/fleet-assistant/agent/coordinator"
	gatex "github.com/kwkraus/fleet-assistant/agent/gate"
	llmx "github.com/kwkraus/fleet-assistant/agent/llm"
	pluginx "github.com/kwkraus/fleet-assistant/agent/plugin"
	promptx "github.com/kwkraus/fleet-assistant/agent/prompt"
	tenantx "github.com/kwkraus/fleet-assistant/agent/tenant"
	configx "github.com/kwkraus/fleet-assistant/pkg/config"
	logx "github.com/kwkraus/fleet-assistant/pkg/logger"
	serverx "github.com/kwkraus/fleet-assistant/server"
)

type AppConfig struct {
	APIKeys        string        `envconfig:"API_KEYS" split_words:"true" required:"true"`
	WorkerTimeout  time.Duration `envconfig:"WORKER_TIMEOUT" split_words:"true" default:"30s"`
	ConfigCacheTTL time.Duration `envconfig:"CONFIG_CACHE_TTL" split_words:"true" default:"30m"`
	QuotaBackend   string        `envconfig:"QUOTA_BACKEND" split_words:"true" default:"memory"`
	TenantBackend  string        `envconfig:"TENANT_BACKEND" split_words:"true" default:"static"`
}

func main() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))

	appCfg := configx.MustNew[AppConfig]("FLEET")

	clients, err := configx.MustNew[llmx.Config]("LLM").Clients()
	if err != nil {
		log.Fatal().Err(err).Msg("completion clients")
	}

	configStore, credStore := buildTenantStores(appCfg)
	cachedConfig := tenantx.NewCachedConfigStore(configStore, appCfg.ConfigCacheTTL)

	resolver, err := pluginx.NewResolver(pluginx.NewBuiltinRegistry(), cachedConfig, credStore)
	if err != nil {
		log.Fatal().Err(err).Msg("plugin resolver")
	}

	fuel, err := domainx.NewFuel(clients[contractx.AgentFuel], resolver)
	if err != nil {
		log.Fatal().Err(err).Msg("fuel agent")
	}
	maintenance, err := domainx.NewMaintenance(clients[contractx.AgentMaintenance], resolver)
	if err != nil {
		log.Fatal().Err(err).Msg("maintenance agent")
	}
	safety, err := domainx.NewSafety(clients[contractx.AgentSafety], resolver)
	if err != nil {
		log.Fatal().Err(err).Msg("safety agent")
	}

	prompts := promptx.LoadPromptSet()
	coordinator, err := coordinatorx.New(
		clients[contractx.AgentCoordinator],
		coordinatorx.Prompts{Classify: prompts.Coordinator, Synthesize: prompts.Synthesis},
		[]contractx.DomainAgent{fuel, maintenance, safety},
		coordinatorx.WithWorkerTimeout(appCfg.WorkerTimeout),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("coordinator")
	}

	gate := gatex.New(buildQuotaStore(appCfg))
	authenticator := gatex.MustParseKeyTable(appCfg.APIKeys)

	srvCfg := configx.MustNew[serverx.Config]("SERVER")
	srv := serverx.New(*srvCfg, authenticator, serverx.NewHandler(gate, coordinator))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("fleet assistant listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}

func buildTenantStores(cfg *AppConfig) (contractx.ConfigStore, contractx.CredentialStore) {
	if cfg.TenantBackend == "postgres" {
		store, err := tenantx.NewPostgresStore(*configx.MustNew[tenantx.PostgresConfig]("TENANT"))
		if err != nil {
			log.Fatal().Err(err).Msg("tenant store")
		}
		return store, store
	}
	static := tenantx.NewStaticStore(nil)
	return static, static
}

func buildQuotaStore(cfg *AppConfig) gatex.QuotaStore {
	if cfg.QuotaBackend == "upstash" {
		store, err := gatex.NewUpstashQuotaStore(*configx.MustNew[gatex.UpstashQuotaConfig]("QUOTA_REDIS"))
		if err != nil {
			log.Fatal().Err(err).Msg("quota store")
		}
		return store
	}
	return gatex.NewMemoryQuotaStore()
}
