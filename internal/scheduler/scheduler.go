package scheduler

import (
	"database/sql"
	"sync"
	"time"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/internal/entitystore"
	"github.com/evmindex/evmindex/internal/gateway"
	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/internal/syncstore"
	"github.com/evmindex/evmindex/pkg/config"
	"github.com/evmindex/evmindex/pkg/indexing"
)

// ClientFactory returns the RPC client to bind into a task's IndexingContext
// for the given chain.
type ClientFactory func(chainID uint64) indexing.Client

// Scheduler is the Indexing Scheduler: it loads decoded events from the sync
// store in dependency order, dispatches them to registered Handlers through
// a bounded worker pool, and persists per-function progress.
type Scheduler struct {
	cfg  config.SchedulerConfig
	db   *sql.DB
	log  *logger.Logger
	gw   *gateway.Gateway
	ss   *syncstore.Store
	ents entitystore.EntityStore

	chainNames map[uint64]string
	clients    ClientFactory

	loadingMutex *cancelableMutex

	mu        sync.Mutex
	functions map[indexing.FunctionKey]*functionState
	order     []indexing.FunctionKey

	lastEventsProcessed checkpoint.Checkpoint
}

// New constructs a Scheduler. Reset must be called before Run to populate
// the function table from the registered FunctionSpecs.
func New(
	cfg config.SchedulerConfig,
	db *sql.DB,
	log *logger.Logger,
	gw *gateway.Gateway,
	ss *syncstore.Store,
	ents entitystore.EntityStore,
	chainNames map[uint64]string,
	clients ClientFactory,
) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		db:           db,
		log:          log.WithComponent("scheduler"),
		gw:           gw,
		ss:           ss,
		ents:         ents,
		chainNames:   chainNames,
		clients:      clients,
		loadingMutex: newCancelableMutex(),
		functions:    make(map[indexing.FunctionKey]*functionState),
	}
}

func (s *Scheduler) networkName(chainID uint64) string {
	if name, ok := s.chainNames[chainID]; ok {
		return name
	}
	return "unknown"
}

func (s *Scheduler) flushIntervalOrDefault() time.Duration {
	if s.cfg.FlushInterval.Duration == 0 {
		return 120 * time.Second //nolint:mnd
	}
	return s.cfg.FlushInterval.Duration
}
