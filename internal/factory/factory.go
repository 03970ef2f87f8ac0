// Package factory manages the lifecycle of every application
// dependency: storage backend, encryption, audit sinks, session
// manager, throttle and the auth service, wired in dependency order and
// torn down in reverse.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/audit"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend/local"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend/redisbackend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend/scyllabackend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend/sqlitebackend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/client"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/config"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/encryption"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/hashing"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/notify"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/service"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/session"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/store"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/throttle"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

type Factory struct {
	config *config.Config

	// Storage
	storageBackend backend.Backend
	store          *store.Store

	// Clients (all optional; nil when not configured)
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	notifier          *notify.Manager
	recorder          *audit.Recorder
	sessionManager    *session.Manager
	throttle          *throttle.Throttle
	authService       *service.AuthService

	closeOnce sync.Once
}

// NewFactory loads configuration and initializes all application
// dependencies. Audit sink failures are tolerated; storage failures are
// not.
func NewFactory() (*Factory, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Log.Level, cfg.Log.Format)

	f := &Factory{config: cfg}

	if err := f.initializeStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	f.initializeAuditSinks()
	if err := f.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("storage_backend", cfg.Storage.Backend),
		util.Bool("encryption_enabled", cfg.Encryption.Enabled),
		util.Bool("kms_enabled", cfg.Encryption.KMSEnabled),
	)

	return f, nil
}

func (f *Factory) initializeStorage() error {
	cfg := f.config

	var (
		b   backend.Backend
		err error
	)
	switch cfg.Storage.Backend {
	case "local":
		b, err = local.New(cfg.Storage.Path, cfg.Storage.MaxBytes)
	case "redis":
		b, err = redisbackend.New(cfg)
	case "sqlite":
		b, err = sqlitebackend.New(cfg.Storage.Path)
	case "scylla":
		b, err = scyllabackend.New(cfg)
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
	if err != nil {
		return fmt.Errorf("%s backend: %w", cfg.Storage.Backend, err)
	}
	f.storageBackend = b

	util.Info("Storage backend initialized", util.String("backend", cfg.Storage.Backend))
	return nil
}

// initializeAuditSinks brings up the optional external audit clients.
// A missing or unreachable sink downgrades to a warning; the local
// trail always works.
func (f *Factory) initializeAuditSinks() {
	cfg := f.config
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(cfg.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(cfg); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if cfg.Elasticsearch.URL != "" {
		if esClient, err := client.NewElasticsearchClient(cfg); err != nil {
			util.Warn("Elasticsearch initialization failed - proceeding without it", util.ErrorField(err))
		} else {
			f.esClient = esClient
		}
	}

	if cfg.Clickhouse.URL != "" {
		if chClient, err := client.NewClickHouseClient(cfg); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without it", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
			sink := &audit.ClickHouseSink{Client: chClient, Table: cfg.Clickhouse.Table}
			if err := sink.EnsureTable(ctx); err != nil {
				util.Warn("Failed to ensure ClickHouse audit table", util.ErrorField(err))
			}
		}
	}
}

func (f *Factory) initializeManagers() error {
	cfg := f.config

	f.hasher = hashing.NewHasher(cfg)
	f.notifier = notify.NewManager()

	if cfg.Encryption.Enabled {
		var kmsClient *kms.Client
		if cfg.Encryption.KMSEnabled {
			awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
				awsconfig.WithRegion(cfg.Encryption.KMSRegion))
			if err != nil {
				return fmt.Errorf("failed to load AWS config: %w", err)
			}
			kmsClient = kms.NewFromConfig(awsCfg)
		}
		f.encryptionManager = encryption.NewManager(cfg, kmsClient)
	}

	storeOpts := store.Options{
		Prefix:            cfg.Storage.Prefix,
		CompressThreshold: cfg.Storage.CompressThreshold,
		EvictFraction:     cfg.Storage.EvictFraction,
		Notifier:          f.notifier,
	}
	if cfg.Storage.EncryptRecords && f.encryptionManager != nil {
		storeOpts.Encryptor = f.encryptionManager
	}
	f.store = store.New(f.storageBackend, storeOpts)

	f.recorder = audit.NewRecorder(f.store, f.auditSinks()...)
	f.sessionManager = session.NewManager(f.store, f.encryptionManager, f.recorder, cfg.Security)
	f.throttle = throttle.New(f.store, cfg.Security)

	authService, err := service.NewAuthService(
		cfg, f.hasher, f.sessionManager, f.throttle, f.recorder, f.notifier, f.store)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}
	f.authService = authService

	return nil
}

func (f *Factory) auditSinks() []audit.Sink {
	var sinks []audit.Sink
	if f.kafkaProducer != nil {
		sinks = append(sinks, &audit.KafkaSink{Producer: f.kafkaProducer, Topic: f.config.Kafka.Topic})
	}
	if f.clickhouseClient != nil {
		sinks = append(sinks, &audit.ClickHouseSink{Client: f.clickhouseClient, Table: f.config.Clickhouse.Table})
	}
	if f.esClient != nil {
		sinks = append(sinks, &audit.ElasticsearchSink{Client: f.esClient, Index: f.config.Elasticsearch.Index})
	}
	return sinks
}

func (f *Factory) Config() *config.Config            { return f.config }
func (f *Factory) Store() *store.Store               { return f.store }
func (f *Factory) Notifier() *notify.Manager         { return f.notifier }
func (f *Factory) Recorder() *audit.Recorder         { return f.recorder }
func (f *Factory) SessionManager() *session.Manager  { return f.sessionManager }
func (f *Factory) AuthService() *service.AuthService { return f.authService }

// Close tears down external connections. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			f.kafkaProducer.Close()
		}
		if f.clickhouseClient != nil {
			f.clickhouseClient.Close()
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.storageBackend != nil {
			if err := f.storageBackend.Close(); err != nil {
				util.Error("Failed to close storage backend", util.ErrorField(err))
			}
		}
		util.Info("Factory closed")
		util.Sync()
	})
}
