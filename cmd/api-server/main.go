// Package main API Server 入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"resume-optimizer/internal/apiserver/auth"
	"resume-optimizer/internal/apiserver/server"
	"resume-optimizer/internal/config"
	"resume-optimizer/internal/pipeline"
	"resume-optimizer/internal/shared/storage/driver"
	"resume-optimizer/internal/stream"
	"resume-optimizer/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const namespace = "resume"

func main() {
	configDir := flag.String("config", "", "配置文件目录")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	// 加载配置（自动加载 .env，按 APP_ENV 选择 YAML）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 作业存储
	store, err := driver.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.DatabaseDriver, err)
	}
	defer store.Close()
	log.Printf("Connected to %s store", cfg.DatabaseDriver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 流管理器
	streams := stream.NewManager(store, stream.Options{
		HistorySize:     cfg.Stream.HistorySize,
		SubscriberQueue: cfg.Stream.SubscriberQueue,
		IngestQueue:     cfg.Stream.IngestQueue,
		RecentChunks:    cfg.Stream.RecentChunks,
		RecentInsights:  cfg.Stream.RecentInsights,
		Namespace:       namespace,
		Registerer:      reg,
	})

	// 模型、洞察、归档
	agent, extractor, err := newLLM(cfg)
	if err != nil {
		log.Fatalf("Failed to init LLM client: %v", err)
	}
	var opts []pipeline.Option
	insights := newInsightManager(cfg, streams, extractor, reg)
	if insights != nil {
		opts = append(opts, pipeline.WithInsights(insights))
		defer insights.Shutdown()
	}
	exporter, err := newArchiver(cfg, streams)
	if err != nil {
		log.Fatalf("Failed to init archive: %v", err)
	}
	var archiveLoader server.ArchiveLoader
	if exporter != nil {
		opts = append(opts, pipeline.WithArchiver(exporter))
		archiveLoader = exporter
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Workers:           cfg.Pipeline.Workers,
		Steps:             cfg.Pipeline.Steps,
		ChunkChars:        cfg.Pipeline.ChunkChars,
		ChunkInterval:     cfg.Pipeline.ChunkInterval,
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
		JobTimeout:        cfg.Pipeline.JobTimeout,
		Model:             cfg.LLM.Model,
		Namespace:         namespace,
		Registerer:        reg,
	}, store, streams, agent, opts...)

	// HTTP
	transportMetrics := transport.NewMetrics(namespace, reg)
	topts := transport.Options{
		KeepAlive:     cfg.Transport.KeepAlive,
		MinFrameBytes: cfg.Transport.MinFrameBytes,
		WriteTimeout:  cfg.Transport.WriteTimeout,
		Namespace:     namespace,
	}
	h := server.NewHandler(server.Deps{
		Store:     store,
		Streams:   streams,
		Jobs:      runner,
		SSE:       transport.NewSSE(streams, topts, transportMetrics),
		WebSocket: transport.NewWebSocket(streams, topts, transportMetrics),
		Archive:   archiveLoader,
		Metrics:   server.NewMetrics(namespace, reg),
		Gatherer:  reg,
	})
	authCfg := auth.Config{JWTSecret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.Issuer}
	if !authCfg.Enabled() {
		log.Println("JWT_SECRET not set, authentication disabled")
	}

	// 事件流是长连接，不设置 WriteTimeout，由推送层按帧设置写超时
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           h.Router(authCfg),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 协调循环最后停止，让流水线收尾时的事件仍能发出
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := streams.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Stream loop error: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		err := streams.RunRetention(gctx, cfg.Stream.Retention, cfg.Stream.SweepInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Printf("API Server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 优雅关闭
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		return nil
	})

	err = g.Wait()
	stopLoop()
	<-loopDone
	if err != nil {
		store.Close()
		log.Fatalf("Server error: %v", err)
	}
	fmt.Println("Server stopped")
}
