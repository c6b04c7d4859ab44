package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/feature/piece"
	"duzzle.ai/internal/feature/resource"
	"duzzle.ai/internal/feature/season"
	"duzzle.ai/internal/feature/zone"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/persistence/snapshot"
	"duzzle.ai/internal/protocol"
)

func (e *Engine) Meta() ledger.Meta {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Meta
}

func (e *Engine) DalToken() common.Address { return e.Meta().DalToken }

// Self is the address holding the minter capability.
func (e *Engine) Self() common.Address { return e.Meta().Self }

func (e *Engine) Collection() ledger.Collection { return e.Meta().Collection }

func (e *Engine) CurrentSeason() int { return e.Meta().CurrentSeason }

func (e *Engine) HasRole(role common.Hash, account common.Address) bool {
	var ok bool
	_ = e.read(func(tx *ledger.Txn) error {
		ok = tx.HasRole(role, account)
		return nil
	})
	return ok
}

func (e *Engine) Season(index int) (ledger.Season, error) {
	var s ledger.Season
	err := e.read(func(tx *ledger.Txn) error {
		var err error
		s, err = season.Get(tx, index)
		return err
	})
	return s, err
}

func (e *Engine) Zone(seasonIndex, index int) (ledger.Zone, error) {
	var z ledger.Zone
	err := e.read(func(tx *ledger.Txn) error {
		var err error
		z, err = zone.Get(tx, seasonIndex, index)
		return err
	})
	return z, err
}

func (e *Engine) SeasonStatus(index int) (zone.Status, error) {
	var st zone.Status
	err := e.read(func(tx *ledger.Txn) error {
		var err error
		st, err = zone.Reconcile(tx, index)
		return err
	})
	return st, err
}

func (e *Engine) Pool(id common.Address) (ledger.Pool, error) {
	var p ledger.Pool
	err := e.read(func(tx *ledger.Txn) error {
		var err error
		p, err = resource.Lookup(tx, id)
		return err
	})
	return p, err
}

// Pools lists every resource pool, ordered by id.
func (e *Engine) Pools() []ledger.Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Dump().Pools
}

func (e *Engine) BalanceOf(id, account common.Address) (uint64, error) {
	var n uint64
	err := e.read(func(tx *ledger.Txn) error {
		if _, err := resource.Lookup(tx, id); err != nil {
			return err
		}
		n = tx.Balance(id, account)
		return nil
	})
	return n, err
}

// Shortfalls reports what account lacks to mint one piece in the zone.
func (e *Engine) Shortfalls(seasonIndex, zoneIndex int, account common.Address) ([]resource.Shortfall, error) {
	var out []resource.Shortfall
	err := e.read(func(tx *ledger.Txn) error {
		z, err := zone.Get(tx, seasonIndex, zoneIndex)
		if err != nil {
			return err
		}
		out, err = resource.Check(tx, account, z.Requirements)
		return err
	})
	return out, err
}

func (e *Engine) Piece(id uint64) (ledger.Piece, error) {
	var p ledger.Piece
	err := e.read(func(tx *ledger.Txn) error {
		var err error
		p, err = piece.Get(tx, id)
		return err
	})
	return p, err
}

func (e *Engine) OwnerOf(id uint64) (common.Address, error) {
	p, err := e.Piece(id)
	return p.Owner, err
}

func (e *Engine) PieceBalanceOf(account common.Address) uint64 {
	var n uint64
	_ = e.read(func(tx *ledger.Txn) error {
		n = tx.PieceBalance(account)
		return nil
	})
	return n
}

func (e *Engine) TokenURI(id uint64) (string, error) {
	p, err := e.Piece(id)
	if err != nil {
		return "", err
	}
	return piece.TokenURI(e.Collection().BaseURI, p), nil
}

func (e *Engine) Events(ctx context.Context, since uint64, kind ledger.Kind, limit int) ([]ledger.Event, error) {
	evs, err := e.store.Events(ctx, since, kind, limit)
	if err != nil {
		return nil, protocol.Wrap(protocol.CodeInternal, "read events", err)
	}
	return evs, nil
}

// Snapshot captures the committed state.
func (e *Engine) Snapshot() snapshot.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot.New(e.state, e.now())
}

// Restore replaces the whole ledger with snap.
func (e *Engine) Restore(ctx context.Context, snap snapshot.Snapshot) error {
	if snap.State == nil || !snap.State.Meta.Initialized {
		return protocol.Errorf(protocol.CodeValidation, "snapshot holds no initialized ledger")
	}
	ctx, span := e.tracer.Start(ctx, "duzzle.restore")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Replace(ctx, snap.State); err != nil {
		err = protocol.Wrap(protocol.CodeInternal, "replace ledger", err)
		fail(span, err)
		return err
	}
	st := ledger.NewState()
	st.Apply(snap.State)
	e.state = st
	e.logger.Printf("restore ok season=%d pieces=%d taken=%s", snap.Header.Season, snap.Header.Pieces, snap.Header.CreatedAt.Format(time.RFC3339))
	return nil
}
