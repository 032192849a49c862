package service

import (
	"context"

	"go.uber.org/zap"

	"wardwatch/internal/audit"
	"wardwatch/internal/model"
	"wardwatch/internal/upstream"
)

// ManageService proxies camera and bed administration to the upstream
// registry. Every successful change invalidates the identity tables, so
// ordinal labels are rebuilt from the new registry state.
type ManageService struct {
	upstream *upstream.Client
	identity *IdentityService
	audit    *audit.Publisher
	logger   *zap.Logger
}

func NewManageService(client *upstream.Client, identity *IdentityService, auditPub *audit.Publisher, logger *zap.Logger) *ManageService {
	return &ManageService{
		upstream: client,
		identity: identity,
		audit:    auditPub,
		logger:   logger,
	}
}

// ListCCTVs returns the upstream device registry
func (s *ManageService) ListCCTVs(ctx context.Context, token string, skip, limit int) ([]model.CCTV, error) {
	return s.upstream.FetchCCTVs(ctx, token, skip, limit)
}

// ListBedMappings returns the (cctv, bed) pairing table
func (s *ManageService) ListBedMappings(ctx context.Context, token string) ([]model.BedMapping, error) {
	return s.upstream.FetchBedMappings(ctx, token)
}

// CreateCCTV registers a camera upstream
func (s *ManageService) CreateCCTV(ctx context.Context, token, actor string, req model.CCTVCreateRequest) (*model.CCTV, error) {
	created, err := s.upstream.CreateCCTV(ctx, token, req)
	if err != nil {
		return nil, err
	}
	s.afterChange(ctx, audit.ActionCCTVCreated, actor, created.ID, req.Name)
	return created, nil
}

// DeleteCCTV removes a camera from the registry
func (s *ManageService) DeleteCCTV(ctx context.Context, token, actor, id string) error {
	if err := s.upstream.DeleteCCTV(ctx, token, id); err != nil {
		return err
	}
	s.afterChange(ctx, audit.ActionCCTVDeleted, actor, id, "")
	return nil
}

// AssignBed attaches a patient name to a bed
func (s *ManageService) AssignBed(ctx context.Context, token, actor, bedID, patientName string) error {
	if err := s.upstream.AssignBed(ctx, token, bedID, patientName); err != nil {
		return err
	}
	s.afterChange(ctx, audit.ActionBedAssigned, actor, "", bedID)
	return nil
}

// AutoDetectBed triggers upstream bed re-detection
func (s *ManageService) AutoDetectBed(ctx context.Context, token, bedID string) error {
	return s.upstream.AutoDetectBed(ctx, token, bedID)
}

func (s *ManageService) afterChange(ctx context.Context, action, actor, cctvID, detail string) {
	if s.identity != nil {
		s.identity.Invalidate(ctx)
	}
	if s.audit != nil {
		s.audit.UserAction(ctx, action, actor, cctvID, detail)
	}
	s.logger.Info("registry changed",
		zap.String("action", action),
		zap.String("actor", actor))
}
