package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gopherai-analyst/internal/access"
	"gopherai-analyst/internal/ai"
	appsvc "gopherai-analyst/internal/app"
	"gopherai-analyst/internal/audit"
	"gopherai-analyst/internal/cache"
	"gopherai-analyst/internal/config"
	"gopherai-analyst/internal/conversation"
	"gopherai-analyst/internal/model"
	"gopherai-analyst/internal/pkg/logger"
	"gopherai-analyst/internal/pkg/retry"
	mysqlClient "gopherai-analyst/internal/platform/mysql"
	rabbitmqClient "gopherai-analyst/internal/platform/rabbitmq"
	redisClient "gopherai-analyst/internal/platform/redis"
	"gopherai-analyst/internal/repository"
	"gopherai-analyst/internal/search"
	"gopherai-analyst/internal/tabular"
	"gopherai-analyst/internal/worker"
)

const sweepInterval = time.Minute

// App owns every long-lived dependency. Optional backends that are disabled
// in config stay nil.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	AuditWorker *worker.AuditPersistWorker

	Oracle      *ai.Client
	Resolver    *access.Resolver
	Catalog     *tabular.Catalog
	Registry    *conversation.Registry
	Transcripts *cache.TranscriptCache
	Audits      *repository.AuditRepository
	Answers     *appsvc.AnswerService

	StartedAt time.Time

	closers []func() error
	cancel  context.CancelFunc
}

// New loads the config and builds the App from it.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.FilePath,
		Production: cfg.App.Env == "prod",
	})
	return Build(ctx, cfg, log)
}

// Build connects the enabled backends and wires the answer pipeline. On
// error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log, StartedAt: time.Now()}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, mysqlClient.Options{
			DSN:          cfg.MySQLDSN(),
			MaxOpenConns: cfg.MySQL.MaxOpenConns,
			MaxIdleConns: cfg.MySQL.MaxIdleConns,
		})
		if err != nil {
			return err
		}
		a.MySQL = db
		if err := db.AutoMigrate(
			&model.UserTier{},
			&model.DocumentTier{},
			&model.AuditRecord{},
			&model.SearchDocument{},
			&model.SearchChunk{},
		); err != nil {
			return fmt.Errorf("auto migrate tables failed: %w", err)
		}
		a.Audits = repository.NewAuditRepository(db)
	}

	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.Redis = client
		a.Transcripts = cache.NewTranscriptCache(client,
			time.Duration(cfg.Redis.TranscriptTTLSeconds)*time.Second,
			cfg.Redis.TranscriptMaxTurns,
		)
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.AuditQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn
		if a.Audits != nil {
			a.AuditWorker = worker.NewAuditPersistWorker(conn, a.Audits, cfg.RabbitMQ.AuditQueue, a.Logger)
			if err := a.AuditWorker.Start(ctx); err != nil {
				return fmt.Errorf("start audit worker failed: %w", err)
			}
		}
	}
	return nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	backoff := time.Duration(cfg.Retry.BackoffMillis) * time.Millisecond
	oraclePolicy := retry.Policy{
		Attempts: cfg.Retry.Attempts,
		Backoff:  backoff,
		Timeout:  time.Duration(cfg.Retry.OracleTimeoutSeconds) * time.Second,
	}
	storePolicy := retry.Policy{
		Attempts: cfg.Retry.Attempts,
		Backoff:  backoff,
		Timeout:  time.Duration(cfg.Retry.StoreTimeoutSeconds) * time.Second,
	}

	a.Oracle = ai.NewClient(ai.Options{
		Chat: ai.ChatConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		},
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		Timeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		Retry:             oraclePolicy,
		Logger:            a.Logger,
	})
	if !a.Oracle.Configured() {
		a.Logger.Warn("completion oracle is not configured, answers will degrade to apologies")
	}

	var loader access.Loader
	switch cfg.Access.Source {
	case "mysql":
		loader = access.NewGormLoader(repository.NewAccessRepository(a.MySQL))
	default:
		loader = access.FileLoader{Path: cfg.Access.FilePath}
	}
	a.Resolver = access.NewResolver(loader, cfg.Access.SimilarityThreshold, a.Logger)
	if err := a.Resolver.Reload(ctx); err != nil {
		// Lookups fall back to the default tier until a reload succeeds.
		a.Logger.Error("initial rbac load failed", zap.Error(err))
	}

	index, err := a.searchIndex(storePolicy)
	if err != nil {
		return err
	}
	store, err := a.tableStore(ctx)
	if err != nil {
		return err
	}
	namePrefix := cfg.Tables.Prefix
	if cfg.Tables.Backend == "gcs" {
		// the gcs store already scopes object names to the prefix
		namePrefix = ""
	}
	a.Catalog = tabular.NewCatalog(store, namePrefix, cfg.Tables.SampleRow, storePolicy, a.Logger)

	a.Registry = conversation.NewRegistry(conversation.Options{
		HistoryTurns:   cfg.Conversation.HistoryTurns,
		IdleTimeout:    cfg.IdleTimeout(),
		SweepThreshold: cfg.Conversation.SweepThreshold,
		Logger:         a.Logger,
	})
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.Registry.Run(runCtx, sweepInterval)

	decomposer := appsvc.NewDecomposer(a.Oracle, a.Logger)
	retriever := appsvc.NewRetriever(index, a.Resolver, a.Oracle, decomposer, appsvc.RetrieverOptions{
		TopK:           cfg.Retrieval.TopK,
		Concurrency:    cfg.Retrieval.Concurrency,
		KeywordWeights: cfg.Retrieval.KeywordWeights,
		FilterFields:   cfg.Search.FilterFields,
	}, a.Logger)
	analyzer := appsvc.NewAnalyzer(a.Oracle, a.Catalog, store, tabular.NewEngine(cfg.Analysis.MaxOutputRows), a.Resolver,
		appsvc.AnalyzerOptions{StorePolicy: storePolicy}, a.Logger)
	synthesizer := appsvc.NewSynthesizer(a.Oracle, appsvc.SynthesizerOptions{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, a.Logger)

	var transcript appsvc.Transcript
	if a.Transcripts != nil {
		transcript = a.Transcripts
	}
	a.Answers = appsvc.NewAnswerService(a.Registry, a.Resolver, retriever, analyzer, synthesizer,
		nil, transcript, a.auditSink(),
		appsvc.AnswerOptions{
			TopK:         cfg.Retrieval.TopK,
			ResetPhrases: cfg.Commands.ResetPhrases,
			ExportPrefix: cfg.Commands.ExportPrefix,
		},
		a.Logger,
	)
	return nil
}

func (a *App) searchIndex(policy retry.Policy) (search.Index, error) {
	cfg := a.Config.Search
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.Backend == "sql" {
		return search.NewSQLIndex(repository.NewSearchRepository(a.MySQL), a.Oracle, policy, timeout), nil
	}
	index, err := search.NewWeaviateIndex(search.WeaviateOptions{
		Host:         cfg.WeaviateHost,
		Scheme:       cfg.WeaviateScheme,
		APIKey:       cfg.WeaviateAPIKey,
		ClassName:    cfg.ClassName,
		TitleField:   cfg.TitleField,
		ContentField: cfg.ContentField,
		Timeout:      timeout,
	}, a.Oracle, policy, a.Logger)
	if err != nil {
		return nil, err
	}
	return index, nil
}

func (a *App) tableStore(ctx context.Context) (tabular.TableStore, error) {
	cfg := a.Config.Tables
	if cfg.Backend != "gcs" {
		return tabular.NewDirStore(cfg.Dir), nil
	}
	store, err := tabular.NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *App) auditSink() audit.Sink {
	switch {
	case a.MQConn != nil:
		return audit.NewPublisher(a.MQConn, a.Config.RabbitMQ.AuditQueue)
	case a.Audits != nil:
		return audit.NewRepositorySink(a.Audits)
	default:
		return audit.NewLogSink(a.Logger)
	}
}

func (a *App) Close() error {
	var errs []error
	if a.cancel != nil {
		a.cancel()
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.AuditWorker != nil {
		a.AuditWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
