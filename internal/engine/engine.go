// Package engine is the single entry point to the ledger. Every operation runs
// in its own ledger.Txn; its changes are committed to the store and only then
// applied to memory, so a failed operation leaves nothing behind.
package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"duzzle.ai/internal/feature/access"
	"duzzle.ai/internal/feature/resource"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

const tracerName = "duzzle.ai/internal/engine"

// Store persists committed changes. Commit and Replace are atomic.
type Store interface {
	Load(ctx context.Context) (*ledger.State, error)
	Commit(ctx context.Context, c *ledger.Changes) error
	Replace(ctx context.Context, c *ledger.Changes) error
	Events(ctx context.Context, since uint64, kind ledger.Kind, limit int) ([]ledger.Event, error)
}

// EventSink receives the events of every committed operation, in order.
type EventSink interface {
	Publish(events []ledger.Event) error
}

type Options struct {
	Logger *log.Logger
	Sinks  []EventSink
	Now    func() time.Time
}

type Engine struct {
	store  Store
	logger *log.Logger
	sinks  []EventSink
	now    func() time.Time
	tracer trace.Tracer

	mu    sync.RWMutex
	state *ledger.State
}

func Open(ctx context.Context, store Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: nil store")
	}
	st, err := store.Load(ctx)
	if err != nil {
		return nil, protocol.Wrap(protocol.CodeInternal, "load ledger", err)
	}
	e := &Engine{
		store:  store,
		logger: opts.Logger,
		sinks:  opts.Sinks,
		now:    opts.Now,
		tracer: otel.Tracer(tracerName),
		state:  st,
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// InitParams configures a fresh ledger.
type InitParams struct {
	Owner      common.Address
	DalCap     uint64
	ZoneCount  int
	Collection ledger.Collection
}

// Init creates the DAL currency pool and the piece collection, grants the
// administrative role to the owner and the minter capability to the engine
// itself. It runs once per ledger.
func (e *Engine) Init(ctx context.Context, p InitParams) (*ledger.Receipt, error) {
	return e.exec(ctx, "init", false, func(tx *ledger.Txn) error {
		meta := tx.Meta()
		if meta.Initialized {
			return protocol.Errorf(protocol.CodeValidation, "ledger already initialized")
		}
		if p.Owner == (common.Address{}) {
			return protocol.Errorf(protocol.CodeValidation, "owner is the zero address")
		}
		if p.ZoneCount <= 0 {
			return protocol.Errorf(protocol.CodeValidation, "zone count must be positive, got %d", p.ZoneCount)
		}
		if p.Collection.Name == "" || p.Collection.Symbol == "" {
			return protocol.Errorf(protocol.CodeValidation, "collection name and symbol are required")
		}
		meta.Initialized = true
		meta.Owner = p.Owner
		meta.Self = crypto.CreateAddress(p.Owner, 0)
		meta.ZoneCount = p.ZoneCount
		meta.Collection = p.Collection

		access.Bootstrap(tx, access.AdminRole, p.Owner)
		access.Bootstrap(tx, access.MinterRole, meta.Self)
		dal, err := e.factory(tx).Create(tx, "Dal", "DAL", p.DalCap, 0)
		if err != nil {
			return err
		}
		meta.DalToken = dal
		tx.Emit(ledger.KindInitialized, 0, ledger.Initialized{
			Owner:      p.Owner,
			Self:       meta.Self,
			DalToken:   dal,
			Collection: p.Collection,
			ZoneCount:  p.ZoneCount,
		})
		return nil
	})
}

func (e *Engine) factory(tx *ledger.Txn) resource.Factory {
	return resource.Factory{Deployer: tx.Meta().Self}
}

// exec runs fn as one atomic operation.
func (e *Engine) exec(ctx context.Context, op string, needInit bool, fn func(tx *ledger.Txn) error) (*ledger.Receipt, error) {
	ctx, span := e.tracer.Start(ctx, "duzzle."+op)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if needInit && !e.state.Meta.Initialized {
		err := protocol.Errorf(protocol.CodeValidation, "ledger is not initialized")
		fail(span, err)
		return nil, err
	}
	tx := e.state.Begin()
	if err := fn(tx); err != nil {
		fail(span, err)
		return nil, err
	}
	c := tx.Changes()
	if err := e.store.Commit(ctx, c); err != nil {
		err = protocol.Wrap(protocol.CodeInternal, "commit "+op, err)
		fail(span, err)
		return nil, err
	}
	e.state.Apply(c)

	for _, s := range e.sinks {
		if err := s.Publish(c.Events); err != nil {
			e.logger.Printf("%s: event sink: %v", op, err)
		}
	}
	span.SetAttributes(attribute.Int("duzzle.events", len(c.Events)))
	e.logger.Printf("%s ok events=%d season=%d", op, len(c.Events), c.Meta.CurrentSeason)
	return &ledger.Receipt{Events: c.Events}, nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, protocol.CodeOf(err))
}

// read runs fn against a read-only view of the committed state.
func (e *Engine) read(fn func(tx *ledger.Txn) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.state.Begin())
}
