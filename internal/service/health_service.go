package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/shintairiku/cohere-rag/internal/model"
	"github.com/shintairiku/cohere-rag/internal/source"
	"github.com/shintairiku/cohere-rag/internal/store"
)

const healthCheckTimeout = 3 * time.Second

// ModelNamer is the slice of the embed client health checking needs.
type ModelNamer interface {
	ModelName() string
}

// HealthService probes the registry database, the snapshot store, the file
// source and the embedder configuration.
type HealthService struct {
	db       *sql.DB
	store    store.Store
	source   source.Source
	embedder ModelNamer
}

func NewHealthService(db *sql.DB, st store.Store, src source.Source, embedder ModelNamer) *HealthService {
	return &HealthService{db: db, store: st, source: src, embedder: embedder}
}

func (s *HealthService) Check(ctx context.Context) *model.Health {
	health := &model.Health{
		Status: model.HealthOK,
		Checks: make(map[string]model.HealthCheck, 4),
	}

	health.Checks["registry"] = s.probe(ctx, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
	health.Checks["store"] = s.probe(ctx, s.store.Ping)
	health.Checks["source"] = s.probe(ctx, s.source.Ping)

	embedder := model.HealthCheck{Status: model.HealthOK, Detail: s.embedder.ModelName()}
	if embedder.Detail == "" {
		embedder = model.HealthCheck{Status: "failed", Detail: "no embed model configured"}
	}
	health.Checks["embedder"] = embedder

	for _, check := range health.Checks {
		if check.Status != model.HealthOK {
			health.Status = model.HealthDegraded
			break
		}
	}
	return health
}

func (s *HealthService) probe(ctx context.Context, ping func(context.Context) error) model.HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := ping(ctx); err != nil {
		return model.HealthCheck{Status: "failed", Detail: err.Error()}
	}
	return model.HealthCheck{Status: model.HealthOK}
}
