package server

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/internal/config"
	"github.com/thereayou/signal-relay/internal/handlers"
	"github.com/thereayou/signal-relay/internal/middleware"
	"github.com/thereayou/signal-relay/internal/ratelimit"
	"github.com/thereayou/signal-relay/internal/services"
	"github.com/thereayou/signal-relay/internal/store"
	"github.com/thereayou/signal-relay/pkg/auth"
)

// Deps is everything the routes need. Redis, Limiter and JWTManager are
// optional.
type Deps struct {
	Config     *config.Config
	Logger     *zerolog.Logger
	Store      store.Store
	Redis      *redis.Client
	Rooms      *services.RoomService
	Signals    *services.SignalService
	Limiter    *ratelimit.Limiter
	JWTManager *auth.JWTManager
}

func APIEndpoints(r *gin.Engine, d Deps) {
	r.HandleMethodNotAllowed = true
	r.Use(
		middleware.RequestID(),
		middleware.Logger(d.Logger),
		gin.Recovery(),
		middleware.CORS(),
		middleware.MaxBodyBytes(d.Config.MaxSignalBytes),
	)
	r.NoRoute(handlers.NotFound)
	r.NoMethod(handlers.MethodNotAllowed)

	roomH := handlers.NewRoomHandler(d.Rooms)
	signalH := handlers.NewSignalHandler(d.Signals)
	dispatcher := handlers.NewDispatcher(roomH, signalH, d.Rooms)
	healthH := handlers.NewHealthHandler(d.Store)
	createLimit := middleware.RateLimit(d.Limiter, handlers.CreateScope)

	r.GET("/healthz", healthH.Healthz)
	r.GET("/readyz", healthH.Readyz)

	api := r.Group("/api")
	{
		api.POST("/create-room", createLimit, roomH.CreateRoom)
		api.POST("/join-room", roomH.JoinRoom)
		api.POST("/signal", signalH.Signal)
		api.GET("/poll", signalH.Poll)

		// combined endpoint; verbs are checked per action
		api.Any("/rooms", createLimit, dispatcher.Handle)
	}

	if d.JWTManager != nil {
		prefix := d.Config.RedisKeyPrefix
		adminH := handlers.NewAdminHandler(d.Rooms, d.JWTManager, d.Redis, prefix, d.Config.StoreBackend)
		admin := api.Group("/admin", middleware.AdminAuth(d.JWTManager, d.Redis, prefix))
		{
			admin.GET("/stats", adminH.Stats)
			admin.POST("/revoke", adminH.RevokeToken)
		}
	}
}
