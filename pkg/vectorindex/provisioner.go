package vectorindex

import (
	"context"
	"log/slog"
	"time"

	"github.com/avnmr/ai-retail/pkg/logging"
)

// Provisioner is a Provider that refuses duplicate and concurrent creates
type Provisioner struct {
	provider Provider
	locker   Locker
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewProvisioner wraps provider. locker may be nil, which disables cross-process locking.
func NewProvisioner(provider Provider, locker Locker, lockTTL time.Duration, logger *slog.Logger) *Provisioner {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Provisioner{
		provider: provider,
		locker:   locker,
		lockTTL:  lockTTL,
		logger:   logging.OrDiscard(logger),
	}
}

// ListIndexes delegates to the provider
func (p *Provisioner) ListIndexes(ctx context.Context) (IndexList, error) {
	return p.provider.ListIndexes(ctx)
}

// CreateIndex creates the index unless it exists or another request holds its lock
func (p *Provisioner) CreateIndex(ctx context.Context, req CreateIndexRequest) (Index, error) {
	if err := req.Validate(); err != nil {
		return Index{}, err
	}

	if p.locker != nil {
		release, acquired, err := p.locker.Acquire(ctx, req.IndexName, p.lockTTL)
		if err != nil {
			return Index{}, err
		}
		if !acquired {
			p.logger.Info("index creation already in progress", "index", req.IndexName)
			return Index{}, ErrProvisioning
		}
		defer release()
	}

	list, err := p.provider.ListIndexes(ctx)
	if err != nil {
		return Index{}, err
	}
	if list.Contains(req.IndexName) {
		return Index{}, ErrIndexExists
	}

	idx, err := p.provider.CreateIndex(ctx, req)
	if err != nil {
		return Index{}, err
	}

	p.logger.Info("created vector index", "index", idx.Name, "dimension", req.Dimension, "metric", req.Metric)
	return idx, nil
}
