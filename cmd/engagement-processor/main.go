package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/engagement/internal/aggregate"
	"github.com/gosight/engagement/internal/config"
	"github.com/gosight/engagement/internal/consumer"
	"github.com/gosight/engagement/internal/processor"
	"github.com/gosight/engagement/internal/producer"
	"github.com/gosight/engagement/internal/storage"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/processor.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}

	log.Info().
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Str("redis_addr", cfg.Redis.Addr).
		Int("batch_size", cfg.Batch.Size).
		Dur("flush_interval", cfg.Batch.FlushInterval).
		Int64("dwell_limit_ms", cfg.Engagement.DwellLimitMs).
		Msg("Configuration loaded")

	// Initialize ClickHouse
	ch, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ch.EnsureSchema(schemaCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create ClickHouse tables")
	}
	schemaCancel()
	log.Info().Msg("Connected to ClickHouse")

	// Initialize suggestion stats aggregator
	var stats processor.StatsRecorder
	var agg *aggregate.Aggregator
	if cfg.Redis.Addr != "" {
		agg = aggregate.NewAggregator(ch, cfg.Redis)
		defer agg.Close()
		stats = agg
		log.Info().Msg("Suggestion stats aggregator initialized")
	}

	// Engagement events are republished for downstream consumers
	kafkaProducer, err := producer.NewKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka producer")
	}
	defer kafkaProducer.Close()

	engagementProcessor := processor.NewEngagementProcessor(ch, kafkaProducer, stats, cfg.Batch, cfg.Engagement)

	// Create Kafka consumer
	kafkaConsumer, err := consumer.NewKafkaConsumer(cfg.Kafka, engagementProcessor)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}

	// Start consuming
	ctx, cancel := context.WithCancel(context.Background())
	go kafkaConsumer.Start(ctx)

	log.Info().Msg("Engagement processor started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	if err := kafkaConsumer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Kafka consumer")
	}
	engagementProcessor.Stop()

	// Flush remaining suggestion stats
	if agg != nil {
		if err := agg.FlushAll(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to flush suggestion stats")
		}
	}

	log.Info().Msg("Shutdown complete")
}
