package main

import (
	"context"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"livepoll/config"
	"livepoll/crypto"
	"livepoll/migrations"
	"livepoll/poll"
	"livepoll/storage"
)

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.GET("/health", func(ctx *gin.Context) { ctx.String(200, "healthy") })

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")

		if origin == "" || slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(http.StatusForbidden, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Dependencies
	var archiver poll.Archiver
	var history poll.HistoryReader
	if cfg.PostgresURL != "" {
		if err := migrations.Migrate(cfg.PostgresURL); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		repo, err := storage.NewPostgresRepo(context.Background(), cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer repo.Close()
		archiver, history = repo, repo
	} else {
		log.Warn().Msg("no postgres url configured, poll history disabled")
		archiver, history = storage.Disabled{}, storage.Disabled{}
	}

	resumeTokens := crypto.NewResumeTokenManager(cfg.ResumeKey, 24*time.Hour)

	store := poll.NewStore()
	hub := poll.NewHub()
	service := poll.NewService(store, hub, archiver)
	handler := poll.NewHandler(service, hub, history, resumeTokens)

	tickerGen := poll.NewTickerGen()
	sweeper := poll.NewSweeper(store, service, cfg.SweepInterval, tickerGen)

	sweeperStarted := make(chan struct{})
	go sweeper.Run(context.Background(), sweeperStarted)
	<-sweeperStarted

	go hub.RunPinger(make(chan struct{}), tickerGen)

	r := CreateServer(cfg.AllowedOrigins)
	r.GET("/ws", handler.ConnectHandler)
	r.GET("/api/poll/:code", handler.PollInfoHandler)

	log.Info().Str("addr", cfg.ListenAddr).Msg("live polling server listening")
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
