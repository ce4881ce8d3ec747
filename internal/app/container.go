package app

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/llm_gateway/internal/audit"
	"github.com/ncecere/llm_gateway/internal/auth"
	"github.com/ncecere/llm_gateway/internal/config"
	"github.com/ncecere/llm_gateway/internal/modelaccess"
	"github.com/ncecere/llm_gateway/internal/observability"
	"github.com/ncecere/llm_gateway/internal/params"
	"github.com/ncecere/llm_gateway/internal/pricing"
	"github.com/ncecere/llm_gateway/internal/quota"
	"github.com/ncecere/llm_gateway/internal/secrets"
	"github.com/ncecere/llm_gateway/internal/store"
	"github.com/ncecere/llm_gateway/internal/upstream"
)

// Container aggregates runtime dependencies for handlers and workers.
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Store         *store.Store
	Resolver      *auth.Resolver
	Keys          *auth.KeyManager
	ModelAccess   *modelaccess.Authorizer
	Accountant    *quota.Accountant
	Deltas        *quota.DeltaTable
	Flusher       *quota.Flusher
	Pricing       *pricing.Table
	Upstream      upstream.Invoker
	Audit         *audit.Recorder
	Observability *observability.Provider
}

// NewContainer wires all services from configuration and the shared
// connections.
func NewContainer(ctx context.Context, cfg *config.Config, dbPool *pgxpool.Pool, redisClient *redis.Client) (*Container, error) {
	logger := slog.Default()

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	st := store.New(dbPool)
	auditor := audit.NewRecorder(st, logger)

	secretSource, paramSource, err := awsSources(ctx, cfg)
	if err != nil {
		return nil, err
	}

	salt := cfg.AWS.StaticSalt
	if cfg.Auth.SaltSecretID != "" {
		salt, err = secretSource.Get(ctx, cfg.Auth.SaltSecretID)
		if err != nil {
			return nil, fmt.Errorf("load api key salt: %w", err)
		}
	}

	var verifier auth.Verifier
	if cfg.Auth.OIDC.Issuer != "" {
		tokenVerifier, err := auth.NewTokenVerifier(ctx, cfg.Auth.OIDC)
		if err != nil {
			return nil, fmt.Errorf("build token verifier: %w", err)
		}
		verifier = tokenVerifier
	}

	decisionCache := auth.NewDecisionCache(redisClient, cfg.Auth.DecisionCacheTTL, logger)
	resolver := auth.NewResolver(st, verifier, decisionCache, salt, cfg.Auth.AdminUsers)
	keyManager := auth.NewKeyManager(st, salt)

	authorizer := modelaccess.NewAuthorizer(st, paramSource, auditor, modelaccess.Options{
		DefaultParameterName: cfg.ModelAccess.DefaultParameterName,
		StaticDefault:        cfg.AWS.StaticDefaultModelAccess,
		CacheTTL:             cfg.ModelAccess.CacheTTL,
		CacheSize:            cfg.ModelAccess.CacheSize,
	})

	accountant := quota.NewAccountant(st, paramSource, auditor, quota.Options{
		DefaultParameterName: cfg.Quota.DefaultParameterName,
		StaticDefault:        cfg.AWS.StaticDefaultQuota,
		RolloverMaxAttempts:  cfg.Quota.RolloverMaxAttempts,
		ConfigCacheTTL:       cfg.Quota.ConfigCacheTTL,
		ConfigCacheSize:      cfg.Quota.ConfigCacheSize,
	})

	deltas := quota.NewDeltaTable()
	flusher := quota.NewFlusher(deltas, accountant, st, cfg.Quota.FlushInterval, logger)
	if obs != nil {
		flusher.SetObserver(obs.RecordFlushSweep)
	}

	table, err := pricing.LoadTable(cfg.Pricing.CostTablePath)
	if err != nil {
		return nil, fmt.Errorf("load cost table: %w", err)
	}

	invoker := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout)

	return &Container{
		Config:        cfg,
		Logger:        logger,
		DBPool:        dbPool,
		Redis:         redisClient,
		Store:         st,
		Resolver:      resolver,
		Keys:          keyManager,
		ModelAccess:   authorizer,
		Accountant:    accountant,
		Deltas:        deltas,
		Flusher:       flusher,
		Pricing:       table,
		Upstream:      invoker,
		Audit:         auditor,
		Observability: obs,
	}, nil
}

// awsSources builds the secret and parameter sources, falling back to
// static config values when no AWS-backed names are configured.
func awsSources(ctx context.Context, cfg *config.Config) (secrets.Source, params.Source, error) {
	needsAWS := cfg.Auth.SaltSecretID != "" ||
		cfg.Quota.DefaultParameterName != "" ||
		cfg.ModelAccess.DefaultParameterName != ""
	if !needsAWS {
		return secrets.Static{}, params.Static{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	return secrets.NewManagerSource(secretsmanager.NewFromConfig(awsCfg)),
		params.NewSSMSource(ssm.NewFromConfig(awsCfg)),
		nil
}
