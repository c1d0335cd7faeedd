package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DestinationService maintains the per-ABN remittance allow-list.
type DestinationService struct {
	store QueryStore
	audit *AuditService
}

func NewDestinationService(store QueryStore) *DestinationService {
	return &DestinationService{store: store, audit: NewAuditService(store)}
}

type RegisterDestinationRequest struct {
	ABN         string
	Label       string
	Destination domain.Destination
	ActorID     string
}

// Register adds a destination to the allow-list. Re-registering the same
// normalized destination updates its label.
func (s *DestinationService) Register(ctx context.Context, req RegisterDestinationRequest) (*models.Destination, error) {
	abn := strings.TrimSpace(req.ABN)
	if abn == "" {
		return nil, domain.NewValidationError("abn", "is required")
	}
	req.Destination.Normalize()
	if err := req.Destination.Validate(); err != nil {
		return nil, err
	}
	details, err := json.Marshal(req.Destination)
	if err != nil {
		return nil, fmt.Errorf("encode destination: %w", err)
	}

	var row repository.RemittanceDestination
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		row, err = qtx.UpsertRemittanceDestination(ctx, repository.UpsertRemittanceDestinationParams{
			ID:             repository.ToPgUUID(uuid.New()),
			Abn:            abn,
			Rail:           string(req.Destination.Rail),
			DestinationKey: req.Destination.Key(),
			Label:          strings.TrimSpace(req.Label),
			Details:        details,
		})
		if err != nil {
			return fmt.Errorf("upsert remittance destination: %w", err)
		}
		return s.audit.Write(ctx, qtx, "remittance_destination", repository.FromPgUUID(row.ID).String(), req.ActorID, "allow_listed", "", "", details)
	})
	if err != nil {
		return nil, err
	}
	out, err := toDestination(row)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Lookup returns the allow-list entry matching the destination, or ErrAllowlist.
func (s *DestinationService) Lookup(ctx context.Context, abn string, dest domain.Destination) (*models.Destination, error) {
	dest.Normalize()
	row, err := s.store.Queries().GetRemittanceDestination(ctx, repository.GetRemittanceDestinationParams{
		Abn:            strings.TrimSpace(abn),
		Rail:           string(dest.Rail),
		DestinationKey: dest.Key(),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAllowlist
		}
		return nil, fmt.Errorf("get remittance destination: %w", err)
	}
	out, err := toDestination(row)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *DestinationService) List(ctx context.Context, abn string) ([]models.Destination, error) {
	rows, err := s.store.Queries().ListRemittanceDestinations(ctx, strings.TrimSpace(abn))
	if err != nil {
		return nil, fmt.Errorf("list remittance destinations: %w", err)
	}
	out := make([]models.Destination, 0, len(rows))
	for _, row := range rows {
		d, err := toDestination(row)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
