package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wardwatch/internal/archive"
	"wardwatch/internal/audit"
	"wardwatch/internal/bucketing"
	"wardwatch/internal/client"
	"wardwatch/internal/config"
	"wardwatch/internal/search"
	"wardwatch/internal/service"
	"wardwatch/internal/store"
	"wardwatch/internal/upstream"
	"wardwatch/internal/util"

	redisrepo "wardwatch/internal/repository/redis"
)

// Factory manages the lifecycle of all application dependencies. Redis and
// the upstream client are mandatory; Kafka, ClickHouse and Elasticsearch
// are optional sinks toggled per deployment.
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	upstreamClient   *upstream.Client

	// Domain components
	store            *store.Store
	bucketingManager *bucketing.BucketingManager
	sessionCache     *redisrepo.SessionCache
	identityCache    *redisrepo.IdentityCache
	loginLimiter     *redisrepo.LoginLimiter
	eventArchive     *archive.EventArchive
	auditPublisher   *audit.Publisher
	searchService    *search.Service

	// Services
	monitor     *service.Monitor
	authService *service.AuthService
	identitySvc *service.IdentityService
	manageSvc   *service.ManageService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	f.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("upstream", cfg.Upstream.BaseURL),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
		util.Bool("elastic_enabled", cfg.Elastic.Enabled),
	)
	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis backs sessions and the identity cache; it is required
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		}
	}

	// Kafka is best-effort even when enabled
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without audit publishing", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
		}
	}

	if f.config.Elastic.Enabled {
		if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
		}
	}

	f.upstreamClient = upstream.NewClient(f.config.Upstream, util.Get())

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeComponents() error {
	f.store = store.New(util.Get())
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	if f.redisClient != nil {
		f.sessionCache = redisrepo.NewSessionCache(f.redisClient)
		f.identityCache = redisrepo.NewIdentityCache(f.redisClient, f.config.Identity.CacheTTL)
		f.loginLimiter = redisrepo.NewLoginLimiter(f.redisClient, 5, 15*time.Minute)
	} else {
		return fmt.Errorf("redis client is required for session storage")
	}

	if f.clickhouseClient != nil {
		f.eventArchive = archive.NewEventArchive(f.clickhouseClient)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := f.eventArchive.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
		f.eventArchive.Start()
	}

	if f.kafkaProducer != nil {
		f.auditPublisher = audit.NewPublisher(f.kafkaProducer, f.config.Kafka.AuditTopic)
	}

	if f.esClient != nil {
		f.searchService = search.NewService(f.esClient, f.bucketingManager, f.config.Elastic.IndexPrefix)
	}
	return nil
}

func (f *Factory) initializeServices() {
	var stats service.StatsSource
	if f.eventArchive != nil {
		stats = f.eventArchive
	}

	f.monitor = service.NewMonitor(f.config, f.upstreamClient, f.store, stats, util.Get())
	if f.eventArchive != nil {
		f.monitor.WithArchive(f.eventArchive)
	}
	if f.auditPublisher != nil {
		f.monitor.WithAudit(f.auditPublisher)
	}
	if f.searchService != nil {
		f.monitor.WithSearch(f.searchService)
	}

	f.identitySvc = service.NewIdentityService(f.config.Identity, f.upstreamClient, f.identityCache, util.Get())
	f.authService = service.NewAuthService(f.config.Auth, f.upstreamClient, f.sessionCache, f.loginLimiter, f.monitor, f.auditPublisher, util.Get())
	f.manageSvc = service.NewManageService(f.upstreamClient, f.identitySvc, f.auditPublisher, util.Get())
}

// HealthCheck probes every initialized backend
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// Audit delivery lagging never makes the gateway unhealthy
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

// Close tears everything down in dependency order
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.monitor != nil {
			f.monitor.Stop()
		}
		if f.eventArchive != nil {
			if err := f.eventArchive.Close(); err != nil {
				util.Error("Failed to close event archive", util.ErrorField(err))
			}
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})
	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Store() *store.Store {
	return f.store
}

func (f *Factory) Monitor() *service.Monitor {
	return f.monitor
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

func (f *Factory) IdentityService() *service.IdentityService {
	return f.identitySvc
}

func (f *Factory) ManageService() *service.ManageService {
	return f.manageSvc
}

func (f *Factory) UpstreamClient() *upstream.Client {
	return f.upstreamClient
}

func (f *Factory) SearchService() *search.Service {
	return f.searchService
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
