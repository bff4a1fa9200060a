package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/concertify/concertify/internal/appstate"
	"github.com/concertify/concertify/internal/auth"
	"github.com/concertify/concertify/internal/chat"
	"github.com/concertify/concertify/internal/concerts"
	"github.com/concertify/concertify/internal/db"
	"github.com/concertify/concertify/internal/emergency"
	"github.com/concertify/concertify/internal/handlers"
	"github.com/concertify/concertify/internal/join"
	"github.com/concertify/concertify/internal/live"
	"github.com/concertify/concertify/internal/push"
	"github.com/concertify/concertify/internal/threads"
	"github.com/concertify/concertify/internal/ws"
	"github.com/concertify/concertify/pkg/config"
	"github.com/concertify/concertify/pkg/logging"
)

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterContext, err := limiterInstance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limiter error"})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func serverErrorLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error().
				Int("status", c.Writer.Status()).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Str("ip", c.ClientIP()).
				Dur("duration", time.Since(start).Truncate(time.Millisecond)).
				Str("errors", c.Errors.ByType(gin.ErrorTypeAny).String()).
				Str("response", strings.TrimSpace(blw.body.String())).
				Msg("server error")
		}
	}
}

func panicRecovery(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("ip", c.ClientIP()).
			Interface("error", recovered).
			Bytes("stack", debug.Stack()).
			Msg("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func main() {
	cfg := config.Load()
	log := logging.Setup(cfg.LogLevel, cfg.Environment)

	if len(os.Args) > 1 {
		if err := runCommand(cfg, log, os.Args[1:]); err != nil {
			log.Fatal().Err(err).Msg("command failed")
		}
		return
	}

	if err := runServer(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

func runCommand(cfg *config.Config, log zerolog.Logger, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "seed":
		return runSeed(cfg, log, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  concertify                Start the API server")
	fmt.Fprintln(out, "  concertify status         Show application statistics")
	fmt.Fprintln(out, "  concertify status --json")
	fmt.Fprintln(out, "  concertify seed [file]    Load the concert catalog from a JSON file")
}

func runServer(cfg *config.Config, log zerolog.Logger) error {
	// Ensure data directories exist
	os.MkdirAll(cfg.FileStoragePath, 0755)

	// Initialize database
	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	conn := database.GetConn()

	// Initialize services
	bus := live.NewManager(logging.Component(log, "live"))
	resolver := join.NewResolver(join.StoreLookup(conn), cfg.DefaultAvatarURL, logging.Component(log, "join"))
	state := appstate.NewRegistry(logging.Component(log, "appstate"))

	authSvc := auth.New(conn, cfg.JWTSecret)
	notifier := push.NewNotifier(conn, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, logging.Component(log, "push"))
	concertSvc := concerts.NewService(conn, bus, cfg.DefaultAvatarURL, logging.Component(log, "concerts"))
	chatSvc := chat.NewService(conn, bus, cfg.DefaultAvatarURL, logging.Component(log, "chat"))
	threadSvc := threads.NewService(conn, bus, resolver, logging.Component(log, "threads"))

	// A nil *push.Notifier must stay nil as an interface value, otherwise
	// the nil checks downstream pass and calls hit a nil receiver.
	var emergencyNotifier emergency.Notifier
	var messageNotifier handlers.MessageNotifier
	if notifier != nil {
		emergencyNotifier = notifier
		messageNotifier = notifier
	}
	emergencySvc := emergency.NewService(conn, bus, concertSvc, emergencyNotifier, logging.Component(log, "emergency"))

	chatSvc.RegisterFetchers(bus)
	threadSvc.RegisterFetchers(bus)
	emergencySvc.RegisterFetchers(bus)
	concertSvc.RegisterFetchers(bus)

	// Initialize WebSocket hub
	hub := ws.NewHub(bus, state, logging.Component(log, "ws"))
	go hub.Run()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authSvc, cfg.FileStoragePath, cfg.MaxUploadSize)
	chatHandler := handlers.NewChatHandler(chatSvc, messageNotifier, hub)
	concertHandler := handlers.NewConcertHandler(concertSvc)
	threadHandler := handlers.NewThreadHandler(threadSvc)
	emergencyHandler := handlers.NewEmergencyHandler(emergencySvc, state)
	stateHandler := handlers.NewStateHandler(state)
	pushHandler := handlers.NewPushHandler(notifier)

	// Setup router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger(log))
	router.Use(gin.Logger())
	router.Use(panicRecovery(log))
	router.MaxMultipartMemory = cfg.MaxUploadSize

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Public endpoints
	api := router.Group("/api")
	{
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
		registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})

		// Auth endpoints
		api.POST("/auth/register", rateLimitMiddleware(registerLimiter), authHandler.Register)
		api.POST("/auth/login", rateLimitMiddleware(loginLimiter), authHandler.Login)

		// The catalog is browsable without an account
		api.GET("/concerts", concertHandler.List)
		api.GET("/concerts/:id", concertHandler.Get)
	}

	// Protected endpoints
	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		// Profile and session state
		protected.GET("/me", authHandler.Me)
		protected.PUT("/me", authHandler.UpdateProfile)
		protected.POST("/me/avatar", authHandler.UploadAvatar)
		protected.GET("/me/state", stateHandler.Get)
		protected.PUT("/me/active-concert", stateHandler.SetActiveConcert)
		protected.GET("/me/concerts", concertHandler.MyConcerts)
		protected.DELETE("/me/emergency", emergencyHandler.Resolve)

		// Concerts
		protected.POST("/concerts/:id/checkin", concertHandler.CheckIn)
		protected.GET("/concerts/:id/attendees", concertHandler.Attendees)

		// Discussion boards
		protected.GET("/concerts/:id/posts", threadHandler.GetPosts)
		protected.POST("/concerts/:id/posts", threadHandler.CreatePost)
		protected.GET("/posts/:id/comments", threadHandler.GetComments)
		protected.POST("/posts/:id/comments", threadHandler.CreateComment)
		protected.POST("/posts/:id/like", threadHandler.ToggleLikePost)
		protected.POST("/comments/:id/like", threadHandler.ToggleLikeComment)

		// Emergencies
		protected.GET("/concerts/:id/emergencies", emergencyHandler.GetReports)
		protected.POST("/concerts/:id/emergencies", emergencyHandler.Report)

		// Direct messages
		protected.POST("/rooms", chatHandler.OpenRoom)
		protected.GET("/rooms", chatHandler.GetRooms)
		protected.GET("/rooms/:id/messages", chatHandler.GetMessages)
		protected.POST("/messages", chatHandler.SendMessage)

		// Web push
		protected.GET("/push/key", pushHandler.VAPIDPublicKey)
		protected.POST("/push/subscribe", pushHandler.Subscribe)
		protected.POST("/push/unsubscribe", pushHandler.Unsubscribe)
	}

	// Serve uploaded avatars from configured storage path
	router.Static("/api/uploads", cfg.FileStoragePath)

	// WebSocket endpoint
	router.GET("/ws", authHandler.AuthMiddleware(), hub.HandleWebSocket)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	log.Info().Str("addr", addr).Msg("starting server")

	// Setup graceful shutdown
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigint
		log.Info().Msg("shutting down gracefully")
		os.Exit(0)
	}()

	if err := router.Run(addr); err != nil {
		return err
	}

	return nil
}
