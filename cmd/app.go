package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/migrations"
	"github.com/evalkit-dev/evalkit-engine/pkg/cloud"
	"github.com/evalkit-dev/evalkit-engine/pkg/config"
	"github.com/evalkit-dev/evalkit-engine/pkg/database"
	"github.com/evalkit-dev/evalkit-engine/pkg/importfile"
	"github.com/evalkit-dev/evalkit-engine/pkg/jobs"
	"github.com/evalkit-dev/evalkit-engine/pkg/logging"
	"github.com/evalkit-dev/evalkit-engine/pkg/metrics"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
	"github.com/evalkit-dev/evalkit-engine/pkg/services"
	"github.com/evalkit-dev/evalkit-engine/pkg/storage"
	"github.com/evalkit-dev/evalkit-engine/pkg/workqueue"
)

const (
	redisPopTimeout   = 5 * time.Second
	redisRetryDelay   = 10 * time.Second
	redisMaxAttempts  = 5
	sqsErrorBackoff   = 5 * time.Second
	connectTimeout    = 30 * time.Second
	consumerDrainTime = 60 * time.Second
)

// app holds the process-wide dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *database.DB
	redis   *redis.Client
	aws     *aws.Config
	metrics *metrics.Metrics
}

// newLogger builds a development logger for local runs and a JSON
// production logger everywhere else.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsLocal() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// close releases every connection the app opened.
func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}

// connectDatabase opens the Postgres pool once.
func (a *app) connectDatabase(ctx context.Context) (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}

	connStr := a.cfg.Database.ConnectionString()
	a.logger.Info("Connecting to database", zap.String("url", logging.SanitizeConnectionString(connStr)))

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: a.cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %s", logging.SanitizeError(err))
	}
	a.db = db
	return db, nil
}

// migrate applies the embedded schema migrations.
func (a *app) migrate(ctx context.Context) error {
	db, err := a.connectDatabase(ctx)
	if err != nil {
		return err
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, migrations.FS, a.logger)
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}
	awsCfg, err := cloud.LoadAWSConfig(ctx, &a.cfg.Storage)
	if err != nil {
		return aws.Config{}, err
	}
	a.aws = &awsCfg
	return awsCfg, nil
}

func (a *app) blobStore(ctx context.Context) (*storage.S3Store, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return storage.NewS3Store(awsCfg, &a.cfg.Storage, a.logger), nil
}

// queue returns the configured driver's dispatcher and an unstarted consumer.
// handler may be nil when the caller only dispatches; the local driver
// needs it because its dispatcher runs jobs in-process.
func (a *app) queue(ctx context.Context, handler jobs.ImportHandler) (jobs.Dispatcher, jobs.Consumer, error) {
	qc := a.cfg.Queue

	switch qc.Driver {
	case config.QueueDriverLocal:
		if handler == nil {
			return nil, nil, fmt.Errorf("the local queue driver runs imports in-process; use the serve command")
		}
		local := jobs.NewLocalQueue(handler, qc.Workers, workqueue.DefaultRetryConfig(), a.metrics, a.logger)
		return local, local, nil

	case config.QueueDriverSQS:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		client := cloud.NewSQSClient(awsCfg, qc.SQSEndpoint)
		dispatcher := jobs.NewSQSDispatcher(client, qc.SQSQueueURL, a.metrics)
		if handler == nil {
			return dispatcher, nil, nil
		}
		consumer := jobs.NewSQSConsumer(ctx, client, handler, jobs.SQSConsumerConfig{
			QueueURL:          qc.SQSQueueURL,
			Workers:           qc.Workers,
			WaitTimeSeconds:   qc.SQSWaitTimeSeconds,
			VisibilityTimeout: qc.SQSVisibilityTimeout,
			ErrorBackoff:      sqsErrorBackoff,
		}, a.metrics, a.logger)
		return dispatcher, consumer, nil

	case config.QueueDriverRedis:
		if a.redis == nil {
			client, err := database.NewRedisClient(ctx, &a.cfg.Redis)
			if err != nil {
				return nil, nil, err
			}
			a.redis = client
		}
		dispatcher := jobs.NewRedisDispatcher(a.redis, qc.RedisKey, a.metrics)
		if handler == nil {
			return dispatcher, nil, nil
		}
		consumer := jobs.NewRedisConsumer(ctx, a.redis, handler, jobs.RedisConsumerConfig{
			Key:         qc.RedisKey,
			Workers:     qc.Workers,
			PopTimeout:  redisPopTimeout,
			MaxAttempts: redisMaxAttempts,
			RetryDelay:  redisRetryDelay,
		}, a.metrics, a.logger)
		return dispatcher, consumer, nil
	}

	return nil, nil, fmt.Errorf("unknown queue driver %q", qc.Driver)
}

// repos groups the stateless repositories.
type repos struct {
	projects repositories.ProjectRepository
	members  repositories.ProjectMemberRepository
	datasets repositories.DatasetRepository
	entries  repositories.DatasetEntryRepository
	uploads  repositories.FileUploadRepository
}

func newRepos() repos {
	return repos{
		projects: repositories.NewProjectRepository(),
		members:  repositories.NewProjectMemberRepository(),
		datasets: repositories.NewDatasetRepository(),
		entries:  repositories.NewDatasetEntryRepository(),
		uploads:  repositories.NewFileUploadRepository(),
	}
}

func (a *app) newImporter(r repos, blobs storage.BlobReader) services.ImportService {
	ic := a.cfg.Importer
	return services.NewImportService(
		r.uploads,
		r.entries,
		blobs,
		database.NewScopeProvider(a.db),
		database.NewTxManager(),
		services.ImportServiceConfig{
			MaxFileBytes: ic.MaxFileBytes,
			Limits: importfile.Limits{
				MaxLineBytes: ic.MaxLineBytes,
				MaxEntries:   ic.MaxEntries,
			},
		},
		a.metrics,
		a.logger,
	)
}

// startSweeper runs sweeper until ctx ends or the returned stop is called.
// stop waits for an in-flight sweep to finish so the pool can be closed after it.
func startSweeper(ctx context.Context, sweeper services.UploadSweeper, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx, interval)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (a *app) newSweeper(r repos, dispatcher jobs.Dispatcher) services.UploadSweeper {
	ic := a.cfg.Importer
	return services.NewUploadSweeper(
		r.uploads,
		dispatcher,
		database.NewScopeProvider(a.db),
		services.UploadSweeperConfig{
			StuckPendingAfter:    ic.StuckPendingAfter,
			StuckProcessingAfter: ic.StuckProcessingAfter,
			MaxEnqueueAttempts:   ic.MaxEnqueueAttempts,
		},
		a.metrics,
		a.logger,
	)
}

// apiServices are the services behind the HTTP API.
type apiServices struct {
	projects services.ProjectService
	members  services.MemberService
	datasets services.DatasetService
	uploads  services.UploadService
}

func (a *app) newAPIServices(r repos, urls storage.UploadURLIssuer, dispatcher jobs.Dispatcher) apiServices {
	access := services.NewAccessControl(r.projects, r.members, r.datasets, r.uploads, a.logger)
	return apiServices{
		projects: services.NewProjectService(r.projects, r.members, access, database.NewTxManager(), a.logger),
		members:  services.NewMemberService(r.members, access, a.logger),
		datasets: services.NewDatasetService(r.datasets, r.entries, access, a.logger),
		uploads: services.NewUploadService(
			r.uploads,
			access,
			urls,
			dispatcher,
			services.UploadServiceConfig{MaxFileBytes: a.cfg.Importer.MaxFileBytes},
			a.metrics,
			a.logger,
		),
	}
}

// shutdownConsumer drains a started consumer, bounded by consumerDrainTime.
func (a *app) shutdownConsumer(consumer jobs.Consumer) {
	ctx, cancel := context.WithTimeout(context.Background(), consumerDrainTime)
	defer cancel()
	if err := consumer.Shutdown(ctx); err != nil {
		a.logger.Warn("Import consumer did not drain cleanly", zap.Error(err))
	}
}
