package bootstrap

import (
	"io"
	"log"
	"os"

	"ai-tutor-be/internal/config"
	"ai-tutor-be/internal/controller"
	"ai-tutor-be/internal/pkg/logger"
	"ai-tutor-be/internal/repository/implementation"
	"ai-tutor-be/internal/service"
	"ai-tutor-be/pkg/embedding"
	llmfireworks "ai-tutor-be/pkg/llm/fireworks"
	pktNats "ai-tutor-be/pkg/nats"
	"ai-tutor-be/pkg/rag/generate"
	"ai-tutor-be/pkg/rag/retrieval"
	"ai-tutor-be/pkg/rag/summary"
	"ai-tutor-be/pkg/rag/verify"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	TutorController controller.ITutorController

	// Background services (exposed for main.go to run)
	ConsumerService service.IConsumerService
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	ragLogger := newRagLogger(cfg)

	// 2. Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. Infrastructure
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		natsPub = nil
	}

	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Invalid REDIS_URL, rollup debounce disabled: %v", err)
		} else {
			rdb = redis.NewClient(opts)
		}
	}

	// 4. AI providers
	embedder := embedding.NewFireworksProvider(
		cfg.Keys.Fireworks,
		cfg.Ai.BaseURL,
		cfg.Ai.EmbeddingModel,
		cfg.Ai.EmbedMaxRetries,
		cfg.Ai.TimeoutMs,
	)
	llmProvider := llmfireworks.NewFireworksProvider(
		cfg.Keys.Fireworks,
		cfg.Ai.BaseURL,
		cfg.Ai.ChatModel,
		cfg.Ai.TimeoutMs,
	)
	log.Printf("[INFO] Using Fireworks models: chat=%s embeddings=%s", cfg.Ai.ChatModel, cfg.Ai.EmbeddingModel)

	// 5. Repositories
	chunkRepo := implementation.NewDocChunkRepository(db)
	messageRepo := implementation.NewMessageRepository(db)
	memoryRepo := implementation.NewMemoryRepository(db)
	conversationRepo := implementation.NewConversationRepository(db)
	documentRepo := implementation.NewDocumentRepository(db)

	// 6. Pipeline components
	engine := retrieval.NewEngine(
		embedder,
		chunkRepo,
		messageRepo,
		memoryRepo,
		retrieval.Params{
			KDocs:              cfg.Ai.KDocs,
			KMsgs:              cfg.Ai.KMsgs,
			KMems:              cfg.Ai.KMems,
			LastN:              cfg.Ai.LastN,
			RelevanceThreshold: cfg.Ai.RelevanceThreshold,
		},
		ragLogger,
	)
	generator := generate.NewController(llmProvider, generate.Params{
		TempFact:         cfg.Ai.TempFact,
		TempTeach:        cfg.Ai.TempTeach,
		TempCreative:     cfg.Ai.TempCreative,
		TempSummary:      cfg.Ai.TempSummary,
		MaxTokens:        cfg.Ai.MaxTokens,
		MaxTokensSummary: cfg.Ai.MaxTokensSummary,
		TopP:             cfg.Ai.TopP,
	}, ragLogger)
	verifier := verify.NewVerifier(verify.Config{
		MinSupportScore: cfg.Ai.MinSupportScore,
	})
	rollup := summary.NewRollup(
		llmProvider,
		messageRepo,
		conversationRepo,
		documentRepo,
		engine,
		rdb,
		summary.Params{
			EveryNTurns: cfg.Ai.SummarizeEveryNTurns,
			Temperature: cfg.Ai.TempSummary,
			MaxTokens:   cfg.Ai.MaxTokensSummary,
			Model:       cfg.Ai.SummaryModel,
		},
		ragLogger,
	)

	// 7. Services
	tutorService := service.NewTutorService(
		engine,
		generator,
		verifier,
		embedder,
		messageRepo,
		conversationRepo,
		documentRepo,
		pubSub,
		natsPub,
		sysLogger,
	)
	consumerService := service.NewConsumerService(pubSub, rollup, natsPub)

	// 8. Controllers
	tutorController := controller.NewTutorController(tutorService)

	return &Container{
		TutorController: tutorController,
		ConsumerService: consumerService,
	}
}

// newRagLogger writes pipeline diagnostics to a rotated file, mirrored to
// stdout outside production.
func newRagLogger(cfg *config.Config) *log.Logger {
	rotator := &lumberjack.Logger{
		Filename:   cfg.App.RagLogFilePath,
		MaxSize:    10, // Megabytes
		MaxBackups: 3,
		MaxAge:     14, // Days
		Compress:   true,
	}

	var out io.Writer = rotator
	if cfg.App.Environment != "production" {
		out = io.MultiWriter(os.Stdout, rotator)
	}
	return log.New(out, "", log.LstdFlags)
}
