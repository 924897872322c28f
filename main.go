package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/riverfall/changefeed/cfg"
	"github.com/riverfall/changefeed/encoding"
	"github.com/riverfall/changefeed/entity"
	"github.com/riverfall/changefeed/httpmw"
	"github.com/riverfall/changefeed/message"
	"github.com/riverfall/changefeed/publisher"
	_ "github.com/riverfall/changefeed/publisher/sink"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/store"
	"github.com/riverfall/changefeed/telemetry"
	"github.com/riverfall/changefeed/track"
)

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("changefeed - entity change event publisher")
	if cfg.Config.Prometheus.Enabled {
		telemetry.InitializeTelemetry(cfg.Config.NodeID)
	}

	// Entity persistence: SQL-backed when configured, in-memory otherwise.
	var (
		entityStore entity.Store
		repo        deviceRepo
	)
	if path := cfg.Config.Store.Path; path != "" {
		sqlStore, err := store.Open(path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open entity store")
			return
		}
		defer sqlStore.Close()

		r, err := newSQLDeviceRepo(sqlStore)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare device tables")
			return
		}
		entityStore = sqlStore
		repo = r
		log.Info().Str("path", path).Msg("Using SQL entity store")
	} else {
		mem := entity.NewMemory()
		entityStore = mem
		repo = newMemoryDeviceRepo(mem)
		log.Info().Msg("Using in-memory entity store")
	}

	registry := render.NewRegistry()
	registerDeviceRenderers(registry)
	serializer := render.NewSerializer(entityStore, registry, nil)

	ignore, err := track.NewIgnoreList(cfg.Config.Ignore.Patterns)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ignore patterns")
		return
	}

	snk, err := publisher.NewSink(cfg.Config.Sink)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sink")
		return
	}
	defer snk.Close()

	marshal, err := encoding.ForFormat(cfg.Config.Sink.Format)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sink format")
		return
	}

	tracker := &httpmw.Tracker{
		Serializer: serializer,
		Assembler:  message.NewAssembler(serializer),
		Publisher:  publisher.NewPublisher(snk, cfg.Config.Sink.Topic, marshal),
		Ignore:     ignore,
		Host:       cfg.ResolveHostname(),
		UserFn: func(r *http.Request) string {
			return r.Header.Get("X-Remote-User")
		},
	}

	router := chi.NewRouter()
	router.Use(tracker.Middleware())
	registerDeviceRoutes(router, repo)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if handler := telemetry.GetMetricsHandler(); handler != nil {
		router.Handle("/metrics", handler)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Config.HTTP.BindAddress, cfg.Config.HTTP.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving HTTP")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown failed")
	}
}
