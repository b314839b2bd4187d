package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	appoutbox "findit/internal/app/outbox"
	chatsvc "findit/internal/app/services/chat"
	listingsvc "findit/internal/app/services/listings"
	usersvc "findit/internal/app/services/users"
	domainchat "findit/internal/domain/chat"
	domainlistings "findit/internal/domain/listings"
	domainuser "findit/internal/domain/user"
	"findit/internal/infra/broker/kafka"
	"findit/internal/infra/config"
	mongostore "findit/internal/infra/db/mongo"
	ginserver "findit/internal/infra/http/gin"
	"findit/internal/infra/obs"
	outboxinfra "findit/internal/infra/outbox"
	"findit/internal/infra/ratelimit"
	"findit/internal/infra/realtime"
	"findit/internal/infra/security"
	"findit/internal/infra/storage/memory"
	"findit/internal/infra/storage/scylla"
)

const devJWTSecret = "findit-dev-secret"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

// run owns every resource it opens and returns the process exit code, so deferred
// cleanup runs on every path.
func run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg, err := config.Load()
	logger := obs.NewLogger(cfg.Env)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer app.close(logger)

	if cfg.ListingFixtures != "" {
		if err := loadListingFixtures(ctx, cfg.ListingFixtures, app.listings, logger); err != nil {
			logger.Warn("listing fixtures load failed", "error", err, "path", cfg.ListingFixtures)
		}
	}
	if app.worker != nil {
		go func() {
			if err := app.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, app.health, app.handlers)
	go func() {
		<-ctx.Done()
		// hijacked websocket connections are not tracked by http.Server
		app.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "chat_store", cfg.ChatStore)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		return 1
	}
	logger.Info("HTTP server stopped")
	return 0
}

type application struct {
	handlers ginserver.Handlers
	health   obs.HealthHandlers
	hub      *realtime.Hub
	listings domainlistings.Repository
	worker   *outboxinfra.Worker
	closers  []func(context.Context) error
}

func (a *application) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("shutdown step failed", "error", err)
		}
	}
}

type stores struct {
	users    domainuser.Repository
	listings domainlistings.Repository
	comments domainlistings.CommentRepository
	chats    domainchat.Repository
	outbox   appoutbox.Outbox
	queue    appoutbox.Queue
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		hub:    realtime.NewHub(logger),
		health: obs.HealthHandlers{Checks: map[string]obs.Check{}},
	}

	st, err := app.buildStores(ctx, cfg, logger)
	if err != nil {
		app.close(logger)
		return nil, err
	}
	app.listings = st.listings

	secret := cfg.JWTSecret
	if secret == "" {
		logger.Warn("JWT_SECRET not set, using development secret")
		secret = devJWTSecret
	}
	tokens, err := security.NewTokenManager(secret, cfg.JWTTTL)
	if err != nil {
		app.close(logger)
		return nil, err
	}

	messageLimiter, listingLimiter := app.buildLimiters(cfg, logger)

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.NewConfig("findit"))
		if err != nil {
			app.close(logger)
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return producer.Close() })
		app.worker = &outboxinfra.Worker{
			Queue:       st.queue,
			Producer:    producer,
			Logger:      logger,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Source:      "findit",
			Backoff:     cfg.RetryBackoff,
		}
	} else {
		logger.Info("KAFKA_BROKERS not set, outbox events stay unrelayed")
	}

	encoder := appoutbox.JSONEventEncoder{}
	userService := &usersvc.Service{
		Users:         st.users,
		Tokens:        tokens,
		AllowedDomain: cfg.AllowedEmailDomain,
		Logger:        logger,
	}
	listingService := &listingsvc.Service{
		Listings:       st.listings,
		Comments:       st.comments,
		Users:          st.users,
		Outbox:         st.outbox,
		Encoder:        encoder,
		Logger:         logger,
		RequireProfile: cfg.RequireProfile,
	}
	chatService := &chatsvc.Service{
		Chats:          st.chats,
		Listings:       st.listings,
		Users:          st.users,
		Broadcaster:    app.hub,
		Outbox:         st.outbox,
		Encoder:        encoder,
		Logger:         logger,
		RequireProfile: cfg.RequireProfile,
	}

	app.handlers = ginserver.Handlers{
		Chat:    ginserver.ChatHandler{Service: chatService, Logger: logger},
		Listing: ginserver.ListingHandler{Service: listingService, Logger: logger},
		User:    ginserver.UserHandler{Service: userService, Logger: logger},
		Auth:    ginserver.AuthHandler{Service: userService, Enabled: cfg.DevLogin, Logger: logger},
		Realtime: ginserver.RealtimeHandler{
			Hub:            app.hub,
			Verifier:       tokens,
			AuthTimeout:    cfg.WSAuthTimeout,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		},
		AuthMiddleware: ginserver.AuthMiddleware{Verifier: tokens, Logger: logger}.Handle,
		MessageLimiter: messageLimiter,
		ListingLimiter: listingLimiter,
	}
	return app, nil
}

func (a *application) buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	memOutbox := memory.NewOutbox()
	st := stores{
		users:    memory.NewUserRepository(),
		listings: memory.NewListingRepository(),
		comments: memory.NewCommentRepository(),
		chats:    memory.NewChatRepository(),
		outbox:   memOutbox,
		queue:    memOutbox,
	}

	var client *mongostore.Client
	if cfg.StoreDriver == config.DriverMongo || cfg.ChatStore == config.DriverMongo {
		var err error
		client, err = mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return stores{}, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.health.Checks["mongo"] = client.Ping
		logger.Info("mongo connected", "database", cfg.MongoDB)
	}

	if cfg.StoreDriver == config.DriverMongo {
		users, err := mongostore.NewUserRepository(ctx, client.DB)
		if err != nil {
			return stores{}, err
		}
		listings, err := mongostore.NewListingRepository(ctx, client.DB)
		if err != nil {
			return stores{}, err
		}
		comments, err := mongostore.NewCommentRepository(ctx, client.DB)
		if err != nil {
			return stores{}, err
		}
		box, err := outboxinfra.NewStore(ctx, client.DB)
		if err != nil {
			return stores{}, err
		}
		st.users, st.listings, st.comments, st.outbox, st.queue = users, listings, comments, box, box
	}

	switch cfg.ChatStore {
	case config.DriverMongo:
		chats, err := mongostore.NewChatRepository(ctx, client.DB, mongostore.ChatOptions{Transactions: cfg.MongoTransactions})
		if err != nil {
			return stores{}, err
		}
		st.chats = chats
	case config.DriverScylla:
		session, err := scylla.NewSession(ctx, cfg.Scylla, logger)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			session.Close()
			return nil
		})
		st.chats = scylla.NewStore(session, logger)
	}
	return st, nil
}

func (a *application) buildLimiters(cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, ratelimit.Limiter) {
	messageRule := ratelimit.Rule{Limit: cfg.MessageRate.Limit, Window: cfg.MessageRate.Window}
	listingRule := ratelimit.Rule{Limit: cfg.ListingRate.Limit, Window: cfg.ListingRate.Window}
	inProcess := func(rule ratelimit.Rule) ratelimit.Limiter { return ratelimit.NewMemory(rule) }
	if cfg.RedisURL == "" {
		return ratelimit.For(messageRule, inProcess), ratelimit.For(listingRule, inProcess)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, using in-process rate limits", "error", err)
		return ratelimit.For(messageRule, inProcess), ratelimit.For(listingRule, inProcess)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	a.health.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	shared := func(prefix string) func(ratelimit.Rule) ratelimit.Limiter {
		return func(rule ratelimit.Rule) ratelimit.Limiter { return ratelimit.NewRedis(client, prefix, rule) }
	}
	return ratelimit.For(messageRule, shared("findit:message:")), ratelimit.For(listingRule, shared("findit:listing:"))
}
