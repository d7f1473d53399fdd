package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/regnet/internal/aiclient"
	"github.com/OFFIS-RIT/regnet/internal/cache"
	"github.com/OFFIS-RIT/regnet/internal/graphdb"
	"github.com/OFFIS-RIT/regnet/internal/queue"
	"github.com/OFFIS-RIT/regnet/internal/storage"
	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/leaselock"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/logger/console"
	pgstore "github.com/OFFIS-RIT/regnet/pkg/store/pgx"

	"github.com/go-co-op/gocron"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultSchedule = "0 3 * * *"

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// model backend
	collab, err := aiclient.CollaboratorsFromEnv()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	cfg := analysis.ConfigFromEnv()
	engineParams := analysis.NewEngineParams{Config: cfg}
	if collab.Narrative != nil {
		engineParams.Narrator = collab.Narrative
		engineParams.Explainer = collab.Narrative
	}
	engine, err := analysis.NewEngine(engineParams)
	if err != nil {
		logger.Fatal("Invalid analysis configuration", "err", err)
	}

	// Init pgx client
	pgConn, err := pgstore.NewPool(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	store := pgstore.NewAnalysisDBStorageWithConnection(pgConn)

	params := queue.NewProcessorParams{
		Storage:      store,
		Engine:       engine,
		Locks:        leaselock.New(pgConn),
		EmbeddingDim: cfg.EmbeddingDim,
		LeaseTTL:     util.GetEnvDuration("ANALYSIS_LEASE_TTL", leaselock.DefaultTTL),
	}
	if collab.Client != nil && util.GetEnv("AI_EMBED_MODEL") != "" {
		params.Embedder = collab.Client
	}

	// Init s3 client
	if s3Client, err := storage.NewS3Client(ctx); err != nil {
		logger.Warn("Report upload disabled", "err", err)
	} else {
		params.Reports = storage.NewReportStore(storage.NewReportStoreParams{
			Client:         s3Client,
			Bucket:         util.GetEnv("AWS_BUCKET"),
			PublicEndpoint: util.GetEnvString("AWS_PUBLIC_ENDPOINT", ""),
		})
	}

	// Init network cache
	if url := util.GetEnvString("REDIS_URL", ""); url != "" {
		client, err := cache.NewRedisClient(ctx, url)
		if err != nil {
			logger.Warn("Network cache invalidation disabled", "err", err)
		} else {
			defer client.Close()
			params.Cache = cache.NewNetworkCache(client, 0)
		}
	}

	// Init graph export
	graph, err := graphdb.NewFromEnv(ctx)
	if err != nil {
		logger.Warn("Graph export disabled", "err", err)
	} else if graph != nil {
		defer graph.Close(context.Background())
		params.Graph = graph
	}

	processor, err := queue.NewProcessor(params)
	if err != nil {
		logger.Fatal("Failed to create processor", "err", err)
	}

	// Init rabbitmq
	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.PassQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// nightly full pass
	scheduler := gocron.NewScheduler(time.UTC)
	schedule := util.GetEnvString("ANALYSIS_SCHEDULE", defaultSchedule)
	if schedule != "" {
		_, err := scheduler.Cron(schedule).Tag("full-pass").Do(func() {
			_, err := queue.EnqueuePass(ctx, ch, store, analysis.PassRequest{Kind: analysis.KindFull}, queue.TriggerSchedule)
			if err != nil {
				logger.Error("Failed to enqueue scheduled pass", "err", err)
			}
		})
		if err != nil {
			logger.Fatal("Invalid ANALYSIS_SCHEDULE", "schedule", schedule, "err", err)
		}
		scheduler.StartAsync()
		defer scheduler.Stop()
		logger.Info("Scheduled full analysis pass", "schedule", schedule)
	}

	// Passes run one at a time per worker
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.PassQueue,
		fmt.Sprintf("%s_consumer", queue.PassQueue),
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.PassQueue, "err", err)
	}

	logger.Info("Listening for messages")
	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.PassQueue)
					stop()
					return
				}
				handleMessage(ctx, processor, consumerCh, msg, collab)
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleMessage(ctx context.Context, processor *queue.Processor, ch *amqp.Channel, msg amqp.Delivery, collab aiclient.Collaborators) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queue.PassQueue, "retries", queue.RetryCount(msg.Headers))

	processingErr := processor.ProcessPassMessage(ctx, msg.Body)

	// On error retry or dead-letter the message, otherwise ack it
	if processingErr != nil {
		logger.Error("Error processing message", "queue", queue.PassQueue, "err", processingErr)
		if errors.Is(processingErr, context.Canceled) {
			_ = msg.Nack(false, true)
			return
		}
		processor.HandleFailure(ctx, ch, msg, queue.PassQueue, processingErr)
	} else {
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		logger.Info("Message processed successfully", "queue", queue.PassQueue)
	}

	if collab.Client != nil {
		metrics := collab.Client.GetMetrics()
		logger.Info(
			"AI Metrics",
			"input_tokens", metrics.InputTokens,
			"output_tokens", metrics.OutputTokens,
			"total_tokens", metrics.TotalTokens,
			"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
		)
		collab.Client.ResetMetrics()
	}

	logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
	logger.Info("Waiting for next message")
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
