package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-hub/config"
	"whatsapp-hub/internal/handlers"
	"whatsapp-hub/internal/observability"
	"whatsapp-hub/internal/repositories"
	"whatsapp-hub/internal/services"
	"whatsapp-hub/internal/utils"
	"whatsapp-hub/internal/wsnotify"

	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title WhatsApp Hub API
// @version 1.0
// @description Sessões multiempresa do WhatsApp: conexão, mensagens, conversas e eventos em tempo real
// @host localhost:8081
// @BasePath /api/v1
func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Logger().Fatal().Err(err).Msg("erro ao carregar configuração")
	}
	utils.InitLogger("whatsapp-hub", cfg.LogLevel, cfg.LogFormat)
	utils.DefaultCountryCode = cfg.DefaultCountryCode

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectDatabase(cfg.Database)
	if err != nil {
		utils.Logger().Fatal().Err(err).Msg("erro ao conectar ao banco de dados")
	}
	store := repositories.NewStore(db, repositories.RetryPolicy{
		Attempts:  cfg.Database.RetryAttempts,
		BaseDelay: cfg.Database.RetryDelay,
	})

	transport, err := services.NewWhatsAppTransport(ctx, cfg.Store, cfg.Session.DevicePlatform)
	if err != nil {
		utils.Logger().Fatal().Err(err).Msg("erro ao iniciar transporte do WhatsApp")
	}

	hub := wsnotify.NewHub(64)
	var publisher wsnotify.Publisher = hub
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		relay := wsnotify.NewRedisRelay(rdb, cfg.Redis.Channel, hub)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				utils.LogError("Relay de eventos Redis parou: %v", err)
			}
		}()
		publisher = relay
		utils.LogInfo("Eventos replicados via Redis no canal %s (instância %s)", cfg.Redis.Channel, relay.InstanceID())
	}

	var opts services.RouterOptions
	if cfg.S3Config.Enabled() {
		s3Service, err := services.NewS3Service(cfg.S3Config)
		if err != nil {
			utils.LogError("Erro ao criar serviço S3, mídias não serão guardadas: %v", err)
		} else {
			opts.Media = s3Service
		}
	}
	if cfg.SQS.QueueURL != "" {
		sqsClient, err := services.NewSQSClient(ctx, cfg.SQS)
		if err != nil {
			utils.LogError("Erro ao criar cliente SQS, eventos não serão exportados: %v", err)
		} else {
			opts.Exporter = services.NewSQSExporter(sqsClient, cfg.SQS.QueueURL)
		}
	}

	registry := services.NewRegistry(cfg.Session.SendRate, cfg.Session.SendBurst)
	settings := services.NewSettingsService(store, cfg.Session.DefaultMaxSessions)
	contacts := services.NewContactService(store, registry, cfg.Session.ActiveThreadTTL, cfg.Session.MirrorTimeout)
	router := services.NewMessageRouter(cfg.Session, store, registry, contacts, settings, publisher, opts)
	manager := services.NewConnectionManager(cfg.Session, store, transport, registry, settings, publisher, router)

	// Após reinício nenhuma conexão está viva.
	if err := manager.ResetAllStatuses(ctx); err != nil {
		utils.LogError("Erro ao resetar status das sessões: %v", err)
	}

	httpHandler := handlers.NewHTTPHandler(handlers.Dependencies{
		Sessions:     manager,
		Router:       router,
		Contacts:     contacts,
		QuickReplies: services.NewQuickReplyService(store, router),
		Settings:     settings,
		Stats:        services.NewStatsService(store),
		Migration:    services.NewMigrationService(store, cfg.Session.LegacyAuthDir),
		Store:        store,
		Hub:          hub,
	})

	observability.Register(prometheus.DefaultRegisterer)

	api := mux.NewRouter().PathPrefix("/api/v1").Subrouter()
	httpHandler.Register(api)

	registerDocs(api, docsDir, cfg.PublicURL)

	mainRouter := mux.NewRouter()
	mainRouter.Handle("/metrics", promhttp.Handler())
	mainRouter.PathPrefix("/api/v1").Handler(api)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(handlers.LoggingMiddleware(mainRouter)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.LogInfo("Servidor rodando em %s", cfg.PublicURL)
		utils.LogInfo("Swagger UI disponível em %s/api/v1/swagger-ui/", cfg.PublicURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger().Fatal().Err(err).Msg("erro ao iniciar servidor")
		}
	}()

	<-ctx.Done()
	utils.LogInfo("Desligando...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.LogError("Erro ao encerrar servidor HTTP: %v", err)
	}
	hub.Close()

	// Fechar todas as conexões WhatsApp de forma segura
	if err := manager.CloseAllConnections(shutdownCtx); err != nil {
		utils.LogError("Erro ao encerrar conexões WhatsApp: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	utils.LogInfo("Servidor encerrado")
}

// docsDir guarda a saída do swag init (swagger.json e swagger.yaml).
const docsDir = "./docs"

// registerDocs serve os arquivos gerados em /api/v1/swagger/ e a UI em /api/v1/swagger-ui/.
func registerDocs(api *mux.Router, dir, publicURL string) {
	fs := http.FileServer(http.Dir(dir))
	api.PathPrefix("/swagger/").Handler(http.StripPrefix("/api/v1/swagger/", fs))

	// Configuração do Swagger UI
	api.PathPrefix("/swagger-ui/").Handler(httpSwagger.Handler(
		httpSwagger.URL(publicURL+"/api/v1/swagger/swagger.json"),
		httpSwagger.DeepLinking(true),
	))
}
