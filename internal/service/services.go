package service

import (
	"log/slog"

	"github.com/kirinyoku/reservo/internal/cache"
	"github.com/kirinyoku/reservo/internal/clock"
	"github.com/kirinyoku/reservo/internal/repository"
	"github.com/kirinyoku/reservo/internal/service/approval"
	"github.com/kirinyoku/reservo/internal/service/conflict"
	"github.com/kirinyoku/reservo/internal/service/facade"
	"github.com/kirinyoku/reservo/internal/service/ledger"
	"github.com/kirinyoku/reservo/internal/service/query"
)

type Services struct {
	Approval *approval.Service
	Ledger   *ledger.Service
	Query    *query.Service
	Detector *conflict.Detector
	Facade   *facade.Facade
}

type Config struct {
	Query query.Config
}

// NewServices wires the domain services around one store and cache layer.
// limiter may be nil to disable submission throttling.
func NewServices(
	store repository.Store,
	layer *cache.Layer,
	notifier approval.Notifier,
	limiter facade.Limiter,
	clk clock.Clock,
	log *slog.Logger,
	cfg Config,
) *Services {
	s := &Services{
		Approval: approval.New(store, layer, notifier, clk, log),
		Ledger:   ledger.New(store, layer, clk, log),
		Query:    query.New(store, layer, clk, cfg.Query),
		Detector: conflict.New(store),
	}

	s.Facade = facade.New(facade.Deps{
		Approval: s.Approval,
		Ledger:   s.Ledger,
		Query:    s.Query,
		Detector: s.Detector,
		Cache:    layer,
		Limiter:  limiter,
	})

	return s
}
