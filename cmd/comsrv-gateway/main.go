// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/internal/api"
	"github.com/EvanL1/VoltageEMS-sub001/internal/channelmgr"
	"github.com/EvanL1/VoltageEMS-sub001/internal/config"
	"github.com/EvanL1/VoltageEMS-sub001/internal/metrics"
	"github.com/EvanL1/VoltageEMS-sub001/internal/repository"
	"github.com/EvanL1/VoltageEMS-sub001/internal/routing"
	"github.com/EvanL1/VoltageEMS-sub001/internal/rtdb"
	"github.com/EvanL1/VoltageEMS-sub001/internal/rulesrv"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/nats"
	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

func main() {
	var flagConfigFile string
	var flagGops, flagSyncOnStart bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagSyncOnStart, "sync", false, "Force a channel and routing reload immediately after startup")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatal(err)
	}
	log.SetLogLevel(config.Keys.LogLevel)

	if config.Keys.Nats != nil {
		raw, err := json.Marshal(config.Keys.Nats)
		if err != nil {
			log.Fatal(err)
		}
		if err := nats.Init(raw); err != nil {
			log.Fatal(err)
		}
		nats.Connect()
	}

	if err := repository.Connect(config.Keys.DB); err != nil {
		log.Fatal(err)
	}
	db := repository.GetConnection()

	channelRepo := repository.NewChannelRepository(db.DB)
	pointRepo := repository.NewPointRepository(db.DB)
	routingRepo := repository.NewRoutingRepository(db.DB)
	ruleRepo := repository.NewRuleRepository(db.DB)

	var store rtdb.Store
	switch config.Keys.RTDB.Backend {
	case "redis":
		store = rtdb.NewRedisStore(redis.NewClient(&redis.Options{Addr: config.Keys.RTDB.Address}))
	default:
		store = rtdb.NewMemoryStore()
	}
	rtdbHandle := rtdb.New(store)

	cache := routing.New()
	rtdbHandle.AttachRoutingCache(cache)

	channels := channelmgr.New(channelRepo, pointRepo, routingRepo, cache, rtdbHandle)

	handlerRegistry := rulesrv.NewHandlerRegistry()
	postProcessors := rulesrv.NewPostProcessorRegistry()
	if config.Keys.Nats != nil {
		if client := nats.GetClient(); client != nil {
			postProcessors.Register(rulesrv.NewNATSPostProcessor("ems.rule.execution", client.Publish))
		}
	}
	engine := rulesrv.NewEngine(ruleRepo, rtdbHandle, handlerRegistry, postProcessors)

	ctx := context.Background()
	if flagSyncOnStart || config.Keys.SyncOnStart {
		if _, err := channels.ReloadAll(ctx); err != nil {
			log.Errorf("initial channel reload failed: %s", err.Error())
		}
		if _, err := channels.ReloadRouting(ctx); err != nil {
			log.Errorf("initial routing reload failed: %s", err.Error())
		}
	}

	restAPI := &api.RestAPI{Channels: channels, Rules: engine}

	r := mux.NewRouter()
	restAPI.MountRoutes(r)
	r.Handle("/metrics", metrics.Handler())

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	handler := handlers.CustomLoggingHandler(os.Stderr, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Infof("%s %s (%d, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, time.Since(params.TimeStamp).Milliseconds())
	})

	server := &http.Server{
		Addr:         config.Keys.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP server listening at %s...", config.Keys.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("error during shutdown: %s", err.Error())
		}
	}()

	wg.Wait()
	log.Print("Graceful shutdown completed!")
}
