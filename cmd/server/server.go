package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/internal/config"
	"github.com/thereayou/signal-relay/internal/ratelimit"
	"github.com/thereayou/signal-relay/internal/services"
	"github.com/thereayou/signal-relay/internal/store"
	"github.com/thereayou/signal-relay/internal/store/memory"
	"github.com/thereayou/signal-relay/internal/store/mongostore"
	"github.com/thereayou/signal-relay/internal/store/redisstore"
	"github.com/thereayou/signal-relay/internal/store/sqlstore"
	"github.com/thereayou/signal-relay/pkg/auth"
)

var ErrUnexpected = errors.New("unexpected server error")

type Server struct {
	Router     *gin.Engine
	Store      store.Store
	Redis      *redis.Client
	JWTManager *auth.JWTManager
	Rooms      *services.RoomService
	Signals    *services.SignalService

	cfg        *config.Config
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer opens the configured store and wires the HTTP surface on top.
func NewServer(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Server, error) {
	st, rdb, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newServer(cfg, logger, st, rdb), nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store.Store, *redis.Client, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connect failed: %w", err)
		}
		return redisstore.New(rdb, redisstore.WithPrefix(cfg.RedisKeyPrefix)), rdb, nil
	case config.BackendPostgres:
		st, err := sqlstore.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect failed: %w", err)
		}
		return st, nil, nil
	case config.BackendMongo:
		st, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect failed: %w", err)
		}
		return st, nil, nil
	case config.BackendMemory:
		logger.Warn().Msg("memory store selected: rooms are not shared between instances and are lost on restart")
		return memory.NewMemStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// newServer builds services and routes around an already open store. rdb may
// be nil, which disables rate limiting and token revocation.
func newServer(cfg *config.Config, logger *zerolog.Logger, st store.Store, rdb *redis.Client) *Server {
	rooms := services.NewRoomService(services.RoomConfig{
		Store:       st,
		Logger:      logger,
		TTL:         cfg.RoomTTL,
		DefaultMode: cfg.RoomMode,
		MaxClients:  cfg.MaxClients,
	})
	signals := services.NewSignalService(services.SignalConfig{
		Store:  st,
		Rooms:  rooms,
		Logger: logger,
	})

	var limiter *ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			Redis:     rdb,
			Logger:    logger,
			KeyPrefix: cfg.RedisKeyPrefix,
			Limit:     cfg.CreateRateLimit,
			Window:    cfg.CreateRateWindow,
		})
	} else {
		logger.Info().Msg("room creation is not rate limited without redis")
	}

	var jwtMgr *auth.JWTManager
	if cfg.AdminEnabled() {
		jwtMgr = auth.NewJWTManager(cfg.AdminJWTSecret, cfg.AdminTokenTTL)
	}

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	APIEndpoints(router, Deps{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Redis:      rdb,
		Rooms:      rooms,
		Signals:    signals,
		Limiter:    limiter,
		JWTManager: jwtMgr,
	})

	return &Server{
		Router:     router,
		Store:      st,
		Redis:      rdb,
		JWTManager: jwtMgr,
		Rooms:      rooms,
		Signals:    signals,
		cfg:        cfg,
		logger:     logger.With().Str("component", "server").Logger(),
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		s.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error, 1)
	go func() {
		hErr <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Str("store", s.cfg.StoreBackend).
		Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shCancel()
		if err := s.httpServer.Shutdown(shCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

// RunJanitor periodically reclaims expired keys on stores that cannot
// expire them natively. It returns at once for other stores.
func (s *Server) RunJanitor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	sw, ok := s.Store.(store.Sweeper)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, sw)
		}
	}
}

func (s *Server) sweep(ctx context.Context, sw store.Sweeper) {
	n, err := sw.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("expired key sweep failed")
		}
		return
	}
	if n > 0 {
		s.logger.Debug().Int64("removed", n).Msg("expired keys swept")
	}
}

// Close releases the store. Redis is owned by the store when it backs it.
func (s *Server) Close() error {
	return s.Store.Close()
}
