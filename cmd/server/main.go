// Command server runs the snapvault API: access-code verification with
// lockout, album sessions, and the media upload pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"snapvault/internal/access"
	"snapvault/internal/api"
	"snapvault/internal/observability/logging"
	"snapvault/internal/provider"
	"snapvault/internal/quota"
	"snapvault/internal/server"
	"snapvault/internal/serverutil"
	"snapvault/internal/session"
	"snapvault/internal/storage"
	"snapvault/internal/upload"
)

const (
	sessionSweepInterval = time.Hour
	attemptSweepInterval = time.Hour
)

func envOrDefault(key, fallback string) string {
	if value, ok := os.LookupEnv("SNAPVAULT_" + key); ok {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv("SNAPVAULT_" + key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv("SNAPVAULT_" + key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func main() {
	var (
		addr      = flag.String("addr", envOrDefault("ADDR", ":8080"), "listen address")
		logLevel  = flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
		logFormat = flag.String("log-format", envOrDefault("LOG_FORMAT", "json"), "log format (json, text)")

		tlsCert = flag.String("tls-cert", envOrDefault("TLS_CERT", ""), "TLS certificate file")
		tlsKey  = flag.String("tls-key", envOrDefault("TLS_KEY", ""), "TLS key file")

		storageDriver = flag.String("storage-driver", envOrDefault("STORAGE_DRIVER", "memory"), "storage driver (memory, postgres)")
		postgresDSN   = flag.String("postgres-dsn", envOrDefault("POSTGRES_DSN", ""), "postgres connection string")

		sessionStore = flag.String("session-store", envOrDefault("SESSION_STORE", ""), "session store (memory, postgres, redis); defaults to the storage driver")
		redisAddr    = flag.String("redis-addr", envOrDefault("REDIS_ADDR", ""), "redis address for the session store")
		redisPass    = flag.String("redis-password", envOrDefault("REDIS_PASSWORD", ""), "redis password")

		escrowSecret = flag.String("code-escrow-secret", envOrDefault("CODE_ESCROW_SECRET", ""), "secret for access-code escrow; empty disables owner code retrieval")

		localRoot = flag.String("local-storage-root", envOrDefault("LOCAL_STORAGE_ROOT", ""), "directory for local media storage")
		localBase = flag.String("local-storage-base-url", envOrDefault("LOCAL_STORAGE_BASE_URL", "/media"), "public base URL for local media")

		s3Bucket   = flag.String("s3-bucket", envOrDefault("S3_BUCKET", ""), "S3 bucket; empty disables the S3 provider")
		s3Region   = flag.String("s3-region", envOrDefault("S3_REGION", ""), "S3 region")
		s3Endpoint = flag.String("s3-endpoint", envOrDefault("S3_ENDPOINT", ""), "S3 endpoint override for compatible stores")
		s3Access   = flag.String("s3-access-key", envOrDefault("S3_ACCESS_KEY", ""), "S3 access key id")
		s3Secret   = flag.String("s3-secret-key", envOrDefault("S3_SECRET_KEY", ""), "S3 secret access key")
		s3CDN      = flag.String("s3-cdn-base-url", envOrDefault("S3_CDN_BASE_URL", ""), "CDN base URL fronting the S3 bucket")
		s3SSE      = flag.String("s3-sse", envOrDefault("S3_SSE", ""), "S3 server-side encryption algorithm")

		cdnCloud     = flag.String("mediacdn-cloud", envOrDefault("MEDIACDN_CLOUD", ""), "media CDN cloud name; empty disables the provider")
		cdnKey       = flag.String("mediacdn-api-key", envOrDefault("MEDIACDN_API_KEY", ""), "media CDN api key")
		cdnSecret    = flag.String("mediacdn-api-secret", envOrDefault("MEDIACDN_API_SECRET", ""), "media CDN api secret")
		cdnFolder    = flag.String("mediacdn-folder", envOrDefault("MEDIACDN_FOLDER", ""), "media CDN folder prefix")
		cdnTransform = flag.String("mediacdn-transformation", envOrDefault("MEDIACDN_TRANSFORMATION", "q_auto,f_auto"), "media CDN image transformation")

		planPhotos  = flag.Int64("plan-max-photos", envInt64("PLAN_MAX_PHOTOS", quota.Unlimited), "plan photo cap (-1 for unlimited)")
		planVideos  = flag.Int64("plan-max-videos", envInt64("PLAN_MAX_VIDEOS", quota.Unlimited), "plan video cap (-1 for unlimited)")
		planAlbums  = flag.Int64("plan-max-albums", envInt64("PLAN_MAX_ALBUMS", quota.Unlimited), "plan album cap (-1 for unlimited)")
		planStorage = flag.Int64("plan-max-storage-bytes", envInt64("PLAN_MAX_STORAGE_BYTES", quota.Unlimited), "plan storage cap in bytes (-1 for unlimited)")
		planTrial   = flag.Bool("plan-trial", envBool("PLAN_TRIAL", false), "treat owners as trialing")
		planExpired = flag.Bool("plan-trial-expired", envBool("PLAN_TRIAL_EXPIRED", false), "treat owners as trial-expired")
	)
	flag.Parse()

	logger := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, cleanupRepo, err := buildRepository(ctx, *storageDriver, *postgresDSN)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer cleanupRepo()

	store, cleanupSessions, err := buildSessionStore(ctx, *sessionStore, *storageDriver, *postgresDSN, *redisAddr, *redisPass)
	if err != nil {
		logger.Error("session store init failed", "error", err)
		os.Exit(1)
	}
	defer cleanupSessions()

	registry, localProvider, err := buildProviders(ctx, providerFlags{
		localRoot: *localRoot, localBase: *localBase,
		s3Bucket: *s3Bucket, s3Region: *s3Region, s3Endpoint: *s3Endpoint,
		s3Access: *s3Access, s3Secret: *s3Secret, s3CDN: *s3CDN, s3SSE: *s3SSE,
		cdnCloud: *cdnCloud, cdnKey: *cdnKey, cdnSecret: *cdnSecret,
		cdnFolder: *cdnFolder, cdnTransform: *cdnTransform,
	})
	if err != nil {
		logger.Error("provider init failed", "error", err)
		os.Exit(1)
	}
	logger.Info("storage provider selected", "provider", registry.Active().Tag())

	var escrow *access.Escrow
	if *escrowSecret != "" {
		escrow, err = access.NewEscrow(*escrowSecret)
		if err != nil {
			logger.Error("escrow init failed", "error", err)
			os.Exit(1)
		}
	}

	sessions := session.NewManager(store, session.WithLogger(logging.WithComponent(logger, "session")))
	ledger := access.NewLedger(repo, logging.WithComponent(logger, "access"))
	gate := access.NewGate(repo, ledger, sessions, escrow, logging.WithComponent(logger, "access"))
	quotas := quota.NewLedger(repo, quota.StaticLimits{Limits: quota.PlanLimits{
		MaxPhotos:       int(*planPhotos),
		MaxVideos:       int(*planVideos),
		MaxAlbums:       int(*planAlbums),
		MaxStorageBytes: *planStorage,
		Trial:           *planTrial,
		TrialExpired:    *planExpired,
	}})
	pipeline := upload.NewPipeline(repo, gate, quotas, registry, logging.WithComponent(logger, "upload"))

	handler := api.NewHandler(api.Config{
		Repository: repo,
		Gate:       gate,
		Sessions:   sessions,
		Pipeline:   pipeline,
		Principal:  api.HeaderPrincipal{},
		Local:      localProvider,
		Logger:     logging.WithComponent(logger, "api"),
	})
	httpServer := server.NewHTTPServer(*addr, server.New(server.Config{
		API:    handler,
		Logger: logging.WithComponent(logger, "http"),
	}))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serverutil.Run(groupCtx, serverutil.Config{
			Server: httpServer,
			TLS:    serverutil.TLSConfig{CertFile: *tlsCert, KeyFile: *tlsKey},
		})
	})
	group.Go(func() error {
		return runSweep(groupCtx, "session-purge", sessionSweepInterval,
			logging.WithComponent(logger, "sweep"), nil, sessions.PurgeExpired)
	})
	group.Go(func() error {
		return runSweep(groupCtx, "attempt-prune", attemptSweepInterval,
			logging.WithComponent(logger, "sweep"), nil, func(ctx context.Context) error {
				removed, err := ledger.Prune(ctx)
				if err == nil && removed > 0 {
					logger.Debug("pruned access attempts", "removed", removed)
				}
				return err
			})
	})

	logger.Info("server starting", "addr", *addr)
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func buildRepository(ctx context.Context, driver, dsn string) (storage.Repository, func(), error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return storage.NewMemory(), func() {}, nil
	case "postgres":
		pg, err := storage.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = pg.Close(closeCtx)
		}
		return pg, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func buildSessionStore(ctx context.Context, kind, storageDriver, dsn, redisAddr, redisPass string) (session.Store, func(), error) {
	if strings.TrimSpace(kind) == "" {
		kind = storageDriver
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "postgres":
		store, err := session.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}
		return store, cleanup, nil
	case "redis":
		store, err := session.NewRedisStore(ctx, session.RedisConfig{Addr: redisAddr, Password: redisPass})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", kind)
	}
}

type providerFlags struct {
	localRoot, localBase                                 string
	s3Bucket, s3Region, s3Endpoint, s3Access, s3Secret   string
	s3CDN, s3SSE                                         string
	cdnCloud, cdnKey, cdnSecret, cdnFolder, cdnTransform string
}

func buildProviders(ctx context.Context, flags providerFlags) (*provider.Registry, *provider.Local, error) {
	var providers []provider.Provider
	var localProvider *provider.Local

	if flags.localRoot != "" {
		local, err := provider.NewLocal(provider.LocalConfig{
			Root:    flags.localRoot,
			BaseURL: flags.localBase,
		})
		if err != nil {
			return nil, nil, err
		}
		localProvider = local
		providers = append(providers, local)
	}
	if flags.s3Bucket != "" {
		s3Provider, err := provider.NewS3(ctx, provider.S3Config{
			Bucket:               flags.s3Bucket,
			Region:               flags.s3Region,
			Endpoint:             flags.s3Endpoint,
			AccessKeyID:          flags.s3Access,
			SecretAccessKey:      flags.s3Secret,
			CDNBaseURL:           flags.s3CDN,
			ServerSideEncryption: flags.s3SSE,
		})
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, s3Provider)
	}
	if flags.cdnCloud != "" {
		cdn, err := provider.NewMediaCDN(provider.MediaCDNConfig{
			CloudName:      flags.cdnCloud,
			APIKey:         flags.cdnKey,
			APISecret:      flags.cdnSecret,
			Folder:         flags.cdnFolder,
			Transformation: flags.cdnTransform,
		})
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, cdn)
	}

	registry, err := provider.NewRegistry(providers...)
	if err != nil {
		return nil, nil, err
	}
	return registry, localProvider, nil
}
