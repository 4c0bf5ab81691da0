package main

import (
	"context"
	"log"
	"time"

	"resume-optimizer/internal/config"
	"resume-optimizer/internal/insight"
	"resume-optimizer/internal/llm"
	"resume-optimizer/internal/llm/anthropic"
	"resume-optimizer/internal/shared/archive"
	"resume-optimizer/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
)

// newLLM 创建流水线使用的流式 Agent 与洞察提取器
func newLLM(cfg *config.Config) (llm.Streamer, insight.Extractor, error) {
	msg, err := anthropic.NewMessagesClient(cfg.LLM.APIKey)
	if err != nil {
		return nil, nil, err
	}
	agent, err := anthropic.NewAgent(msg, anthropic.Options{
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Pricing:   llm.Pricing{InputPerM: cfg.LLM.InputPricePerM, OutputPerM: cfg.LLM.OutputPricePerM},
	})
	if err != nil {
		return nil, nil, err
	}
	model := cfg.LLM.InsightModel
	if model == "" {
		model = cfg.LLM.Model
	}
	ext, err := anthropic.NewExtractor(msg, model)
	if err != nil {
		return nil, nil, err
	}
	return agent, ext, nil
}

// newInsightManager 未启用洞察时返回 nil
func newInsightManager(cfg *config.Config, streams *stream.Manager, ext insight.Extractor, reg prometheus.Registerer) *insight.Manager {
	if !cfg.Insight.Enabled {
		log.Println("Insight extraction disabled")
		return nil
	}
	ic := cfg.Insight
	limited := insight.NewRateLimited(ext, ic.RatePerMinute, 1)
	return insight.NewManager(streams, limited, insight.Config{
		MinInterval:    ic.MinInterval,
		MinChars:       ic.MinChars,
		WindowChars:    ic.WindowChars,
		BufferChars:    ic.BufferChars,
		DedupSize:      ic.DedupSize,
		IdleSweep:      ic.IdleSweep,
		StaleAfter:     ic.StaleAfter,
		ExtractTimeout: ic.ExtractTimeout,
		Namespace:      namespace,
	}, reg)
}

// newArchiver 未启用归档时返回 nil
func newArchiver(cfg *config.Config, streams *stream.Manager) (*archive.Exporter, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	client, err := archive.NewClient(cfg.Archive)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	log.Printf("[minio] Archiving job events to %s", cfg.Archive.Endpoint)
	return archive.NewExporter(streams, client), nil
}
