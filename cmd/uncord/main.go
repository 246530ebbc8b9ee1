package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uncord-chat/uncord-server/internal/api"
	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/bootstrap"
	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/disposable"
	"github.com/uncord-chat/uncord-server/internal/email"
	"github.com/uncord-chat/uncord-server/internal/emoji"
	"github.com/uncord-chat/uncord-server/internal/eventbus"
	"github.com/uncord-chat/uncord-server/internal/file"
	"github.com/uncord-chat/uncord-server/internal/gateway"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/invite"
	"github.com/uncord-chat/uncord-server/internal/media"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/message"
	"github.com/uncord-chat/uncord-server/internal/postgres"
	"github.com/uncord-chat/uncord-server/internal/presence"
	"github.com/uncord-chat/uncord-server/internal/unfurl"
	"github.com/uncord-chat/uncord-server/internal/user"
	"github.com/uncord-chat/uncord-server/internal/valkey"
	"github.com/uncord-chat/uncord-server/internal/webhook"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// server holds the shared dependencies used by route handlers.
type server struct {
	cfg         *config.Config
	db          *pgxpool.Pool
	rdb         *redis.Client
	userRepo    user.Repository
	authService *auth.Service
	channelRepo channel.Repository
	memberRepo  member.Repository
	inviteRepo  invite.Repository
	messageRepo message.Repository
	fileRepo    file.Repository
	emojiRepo   emoji.Repository
	webhookRepo webhook.Repository
	storage     media.StorageProvider
	bus         *eventbus.Bus
	presence    *presence.Store
	hub         *gateway.Hub
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.Env).
		Str("mode", cfg.Mode).
		Msg("Starting Uncord Server")

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.RedisURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	userRepo := user.NewPGRepository(db, log.Logger)
	channelRepo := channel.NewPGRepository(db, log.Logger)

	firstRun, err := bootstrap.IsFirstRun(ctx, db)
	if err != nil {
		return fmt.Errorf("check first run: %w", err)
	}
	if firstRun {
		log.Info().Msg("First run detected, running initialization")
		if err := bootstrap.RunFirstInit(ctx, userRepo, channelRepo, cfg); err != nil {
			return fmt.Errorf("first-run initialization: %w", err)
		}
		log.Info().Msg("First-run initialization complete")
	}

	// Disposable-email blocklist. Prefetch is called synchronously so the cache is warm before the server begins
	// accepting registrations.
	blocklist := disposable.NewBlocklist(cfg.DisposableEmailBlocklistURL, cfg.DisposableEmailBlocklistEnabled)
	blocklist.Prefetch(ctx)

	var emailSender auth.Sender
	if cfg.SMTPConfigured() {
		emailClient := email.NewClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		emailSender = emailClient
		log.Info().Str("host", cfg.SMTPHost).Int("port", cfg.SMTPPort).Msg("SMTP sender configured")
	} else {
		log.Warn().Msg("SMTP_HOST is not configured. Verification emails will not be delivered.")
	}

	authService, err := auth.NewService(userRepo, cfg, blocklist, emailSender, log.Logger)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	storage, err := newStorageProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise storage provider: %w", err)
	}

	memberRepo := member.NewPGRepository(db, log.Logger)
	inviteRepo := invite.NewPGRepository(db, log.Logger)
	messageRepo := message.NewPGRepository(db, log.Logger)
	fileRepo := file.NewPGRepository(db, log.Logger)
	emojiRepo := emoji.NewPGRepository(db, log.Logger)
	webhookRepo := webhook.NewPGRepository(db, log.Logger)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	startPurgeGoroutine(subCtx, userRepo, fileRepo, storage)

	bus := eventbus.New(rdb, log.Logger)
	presenceStore := presence.New(rdb, cfg.Env, cfg.GatewayConnStaleSec)
	hub := gateway.New(bus, presenceStore, channelRepo, userRepo, log.Logger)
	go runWithBackoff(subCtx, "gateway-hub", func(ctx context.Context) error {
		hub.Run(ctx)
		return ctx.Err()
	})

	app := fiber.New(fiber.Config{
		AppName:   "Uncord",
		BodyLimit: int(cfg.BodyLimitBytes()),
		ErrorHandler: func(c fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return httputil.Fail(c, fe.Code, fe.Message)
			}
			log.Error().Err(err).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Msg("Unhandled error")
			return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
		},
	})

	app.Use(requestid.New())
	requestLogger := httputil.RequestLogger(log.Logger)
	app.Use(func(c fiber.Ctx) error {
		if !cfg.LogHealthRequests && c.Path() == "/v1/health" {
			return c.Next()
		}
		return requestLogger(c)
	})

	srv := &server{
		cfg:         cfg,
		db:          db,
		rdb:         rdb,
		userRepo:    userRepo,
		authService: authService,
		channelRepo: channelRepo,
		memberRepo:  memberRepo,
		inviteRepo:  inviteRepo,
		messageRepo: messageRepo,
		fileRepo:    fileRepo,
		emojiRepo:   emojiRepo,
		webhookRepo: webhookRepo,
		storage:     storage,
		bus:         bus,
		presence:    presenceStore,
		hub:         hub,
	}
	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("Server listening")

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.Debug().
		Uint64("alloc_mb", mem.Alloc/1024/1024).
		Uint64("sys_mb", mem.Sys/1024/1024).
		Uint64("heap_inuse_mb", mem.HeapInuse/1024/1024).
		Msg("Runtime memory stats")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// newStorageProvider selects the object storage backend: S3-compatible (R2) when credentials are configured,
// otherwise local disk so a fresh development checkout works without any cloud setup.
func newStorageProvider(ctx context.Context, cfg *config.Config) (media.StorageProvider, error) {
	if cfg.ObjectStorageConfigured() {
		storage, err := media.NewS3Storage(ctx, cfg.R2EndpointURL, cfg.R2AccessKeyID, cfg.R2SecretKey,
			cfg.R2Bucket, cfg.R2Region, cfg.R2PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		log.Info().Str("bucket", cfg.R2Bucket).Msg("S3-compatible object storage initialised")
		return storage, nil
	}

	presignKey := []byte(cfg.ServerSecret)
	storage := media.NewLocalStorage(localStoragePath, cfg.ServerURL, presignKey)
	log.Info().Str("path", localStoragePath).Msg("Local file storage initialised")
	return storage, nil
}

// localStoragePath is where uploaded files are written when no object storage backend is configured.
const localStoragePath = "./data/uploads"

func (s *server) registerRoutes(app *fiber.App) {
	requireAuth := auth.RequireAuth(s.userRepo)

	health := &api.HealthHandler{DB: s.db, Redis: s.rdb}
	app.Get("/v1/health", health.Health)

	authHandler := api.NewAuthHandler(s.authService, log.Logger)
	app.Post("/v1/signup", authHandler.Register)
	app.Post("/v1/login", authHandler.Login)

	authedMe := app.Group("/v1/users/@me", requireAuth)
	authedMe.Post("/verify", authHandler.VerifyEmail)
	authedMe.Post("/verify/resend", authHandler.ResendVerification)
	authedMe.Post("/token/rotate", authHandler.RotateToken)
	authedMe.Post("/verify-password", authHandler.VerifyPassword)
	authedMe.Delete("/", authHandler.DeleteAccount)

	userHandler := api.NewUserHandler(s.userRepo, s.presence, s.storage, s.bus, log.Logger)
	app.Get("/v1/users/:userID", requireAuth, userHandler.GetUser)
	app.Patch("/v1/users/@me", requireAuth, userHandler.UpdateMe)
	app.Post("/v1/users/@me/avatar", requireAuth, userHandler.UploadAvatar)
	app.Delete("/v1/users/@me/avatar", requireAuth, userHandler.DeleteAvatar)

	emojiHandler := api.NewEmojiHandler(s.emojiRepo, s.storage, log.Logger)
	app.Get("/v1/users/:userID/emojis", requireAuth, emojiHandler.ListEmojis)
	app.Post("/v1/users/@me/emojis", requireAuth, emojiHandler.CreateEmoji)
	app.Patch("/v1/users/@me/emojis/:emojiID", requireAuth, emojiHandler.UpdateEmoji)
	app.Delete("/v1/users/@me/emojis/:emojiID", requireAuth, emojiHandler.DeleteEmoji)

	channelHandler := api.NewChannelHandler(s.channelRepo, s.memberRepo, s.messageRepo, s.bus, log.Logger)
	channelGroup := app.Group("/v1/channels", requireAuth)
	channelGroup.Get("/", channelHandler.ListChannels)
	channelGroup.Post("/", channelHandler.CreateChannel)
	channelGroup.Get("/:channelID", channelHandler.GetChannel)
	channelGroup.Patch("/:channelID", channelHandler.UpdateChannel)
	channelGroup.Delete("/:channelID", channelHandler.DeleteChannel)
	channelGroup.Get("/:channelID/members", channelHandler.ListChannelMembers)
	channelGroup.Post("/:channelID/members/@me", channelHandler.Join)
	channelGroup.Delete("/:channelID/members/@me", channelHandler.Leave)

	typingHandler := api.NewTypingHandler(s.channelRepo, s.memberRepo, s.bus, log.Logger)
	channelGroup.Post("/:channelID/typing", typingHandler.StartTyping)

	unfurler := unfurl.New(s.cfg.ServerURL, log.Logger)
	messageHandler := api.NewMessageHandler(s.messageRepo, s.fileRepo, s.channelRepo, s.memberRepo, s.userRepo,
		unfurler, s.bus, s.storage.URL, log.Logger)
	channelGroup.Get("/:channelID/messages", messageHandler.ListMessages)
	channelGroup.Post("/:channelID/messages", messageHandler.CreateMessage)
	messageGroup := app.Group("/v1/messages", requireAuth)
	messageGroup.Patch("/:messageID", messageHandler.EditMessage)
	messageGroup.Delete("/:messageID", messageHandler.DeleteMessage)

	inviteHandler := api.NewInviteHandler(s.inviteRepo, s.channelRepo, s.memberRepo, s.messageRepo, s.bus, log.Logger)
	channelGroup.Get("/:channelID/invites", inviteHandler.ListInvites)
	channelGroup.Post("/:channelID/invites", inviteHandler.CreateInvite)
	channelGroup.Delete("/:channelID/invites/:code", inviteHandler.DeleteInvite)
	app.Post("/v1/invites/:code/join", requireAuth, inviteHandler.JoinInvite)

	webhookHandler := api.NewWebhookHandler(s.webhookRepo, s.channelRepo, s.messageRepo, s.bus, log.Logger)
	channelGroup.Get("/:channelID/webhooks", webhookHandler.ListWebhooks)
	channelGroup.Post("/:channelID/webhooks", webhookHandler.CreateWebhook)
	channelGroup.Patch("/:channelID/webhooks/:webhookID", webhookHandler.UpdateWebhook)
	channelGroup.Delete("/:channelID/webhooks/:webhookID", webhookHandler.DeleteWebhook)
	app.Post("/v1/webhooks/:channelID/:webhookID/:secret", webhookHandler.ReceiveWebhook)

	fileHandler := api.NewFileHandler(s.fileRepo, s.storage, s.cfg.Env, s.cfg.MaxFilesPerMessage, s.cfg.MaxUploadSizeBytes, log.Logger)
	app.Post("/v1/files/presign", requireAuth, fileHandler.Presign)
	app.Post("/v1/files/complete", requireAuth, fileHandler.Complete)

	// Public media file serving, used only by the local-disk storage backend. S3/R2 serves files directly from the
	// bucket's public URL instead. The UUID component of each storage key provides sufficient entropy to prevent
	// guessing; the ".." check guards against directory traversal since Fiber does not sanitise wildcard params.
	if local, ok := s.storage.(*media.LocalStorage); ok {
		app.Get("/media/*", func(c fiber.Ctx) error {
			key := c.Params("*")
			if key == "" || strings.Contains(key, "..") {
				return fiber.ErrNotFound
			}
			rc, err := local.Get(c.Context(), key)
			if err != nil {
				return fiber.ErrNotFound
			}
			defer func() { _ = rc.Close() }()
			c.Set("Cache-Control", "public, max-age=31536000, immutable")
			return c.SendStream(rc)
		})
	}

	gatewayHandler := api.NewGatewayHandler(s.hub, s.presence, log.Logger)
	app.Get("/", requireAuth, gatewayHandler.Stream)

	// Catch-all handler returns 404 for any request that does not match a defined route. Fiber v3 treats app.Use()
	// middleware as route matches, so without this terminal handler the router considers unmatched requests
	// "handled" and returns the default 200 status with an empty body.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// startPurgeGoroutine runs periodic retention cleanup: expired account-deletion tombstones and orphaned files that
// were presigned for upload but never completed. Both run once immediately and then on a fixed interval.
func startPurgeGoroutine(ctx context.Context, users *user.PGRepository, files *file.PGRepository, storage media.StorageProvider) {
	const (
		purgeInterval       = 1 * time.Hour
		tombstoneRetention  = 90 * 24 * time.Hour
		orphanFileRetention = 24 * time.Hour
	)

	purge := func() {
		if deleted, err := users.PurgeTombstones(ctx, time.Now().Add(-tombstoneRetention)); err != nil {
			log.Warn().Err(err).Msg("Failed to purge expired deletion tombstones")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Msg("Purged expired deletion tombstones")
		}

		orphanKeys, err := files.PurgeOrphans(ctx, time.Now().Add(-orphanFileRetention))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to purge orphaned files")
			return
		}
		for _, key := range orphanKeys {
			if delErr := storage.Delete(ctx, key); delErr != nil {
				log.Warn().Err(delErr).Str("key", key).Msg("Failed to delete orphaned file")
			}
		}
		if len(orphanKeys) > 0 {
			log.Info().Int("deleted", len(orphanKeys)).Msg("Purged orphaned file records")
		}
	}

	go func() {
		purge()
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purge()
			}
		}
	}()
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled error.
// If fn returns nil or context.Canceled the goroutine exits. The delay starts at 1 second and doubles on each
// consecutive failure up to a 2-minute cap.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	delay := 1 * time.Second
	const maxDelay = 2 * time.Minute

	for {
		err := fn(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		log.Error().Err(err).Str("service", name).Dur("retry_in", delay).Msg("Service stopped, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
