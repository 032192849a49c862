package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"wardwatch/internal/config"
	"wardwatch/internal/identity"
	"wardwatch/internal/model"
	redisrepo "wardwatch/internal/repository/redis"
	"wardwatch/internal/upstream"
	"wardwatch/internal/util"
)

// IdentityService resolves the ordinal label mapper. With upstream fetch
// enabled it builds the mapper from the live device and bed tables, cached
// in redis; otherwise the static config tables are authoritative.
type IdentityService struct {
	cfg      config.IdentityConfig
	upstream *upstream.Client
	cache    *redisrepo.IdentityCache
	logger   *zap.Logger

	mu     sync.RWMutex
	mapper *identity.Mapper
	group  singleflight.Group
}

func NewIdentityService(cfg config.IdentityConfig, client *upstream.Client, cache *redisrepo.IdentityCache, logger *zap.Logger) *IdentityService {
	s := &IdentityService{
		cfg:      cfg,
		upstream: client,
		cache:    cache,
		logger:   logger,
	}
	if !cfg.FetchFromUpstream {
		s.mapper = identity.NewMapperFromConfig(cfg)
	}
	return s
}

// Mapper returns the current mapper, building it on first use. Concurrent
// callers share one build; a build failure falls back to the static tables
// so labels degrade to config order instead of erroring a page render.
func (s *IdentityService) Mapper(ctx context.Context, token string) *identity.Mapper {
	s.mu.RLock()
	m := s.mapper
	s.mu.RUnlock()
	if m != nil {
		return m
	}

	v, err, _ := s.group.Do("mapper", func() (interface{}, error) {
		return s.build(ctx, token)
	})
	if err != nil {
		util.Warn("Identity table fetch failed, using static tables", zap.Error(err))
		return identity.NewMapperFromConfig(s.cfg)
	}

	mapper := v.(*identity.Mapper)
	s.mu.Lock()
	s.mapper = mapper
	s.mu.Unlock()
	return mapper
}

// Invalidate drops the cached mapper, e.g. after a camera or bed change
func (s *IdentityService) Invalidate(ctx context.Context) {
	s.mu.Lock()
	if s.cfg.FetchFromUpstream {
		s.mapper = nil
	}
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			util.Warn("Identity cache invalidation failed", zap.Error(err))
		}
	}
}

func (s *IdentityService) build(ctx context.Context, token string) (*identity.Mapper, error) {
	if s.cache != nil {
		if cctvIDs, pairs, ok := s.cache.LoadTables(ctx); ok {
			return identity.NewMapper(cctvIDs, pairs), nil
		}
	}

	var (
		cctvs []model.CCTV
		pairs []model.BedMapping
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cctvs, err = s.upstream.FetchCCTVs(gctx, token, 0, 100)
		return err
	})
	g.Go(func() error {
		var err error
		pairs, err = s.upstream.FetchBedMappings(gctx, token)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cctvIDs := make([]string, 0, len(cctvs))
	for _, c := range cctvs {
		cctvIDs = append(cctvIDs, c.ID)
	}

	if s.cache != nil {
		if err := s.cache.StoreTables(ctx, cctvIDs, pairs); err != nil {
			util.Warn("Identity table caching failed", zap.Error(err))
		}
	}

	util.Info("Identity tables loaded",
		zap.Int("cctvs", len(cctvIDs)),
		zap.Int("bed_pairs", len(pairs)))
	return identity.NewMapper(cctvIDs, pairs), nil
}
