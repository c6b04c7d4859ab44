// Package season opens seasons: it decides which material pools a season
// reuses and which it creates, then records the season.
//
// Opening is split in two. Classify is pure and checks only the shape of the
// request. Open checks the request against the ledger and applies it.
package season

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/feature/access"
	"duzzle.ai/internal/feature/resource"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

// Request mirrors the administrator's call. SupplyCaps covers Existing first,
// then one entry per new material.
type Request struct {
	Existing    []common.Address
	NewNames    []string
	NewSymbols  []string
	SupplyCaps  []uint64
	TotalPieces uint64
}

type Reuse struct {
	Resource common.Address
	Cap      uint64
}

type Material struct {
	Name   string
	Symbol string
	Cap    uint64
}

// Plan is a classified request: what to reuse, what to create.
type Plan struct {
	Reuse       []Reuse
	Create      []Material
	TotalPieces uint64
}

func Classify(req Request) (Plan, error) {
	if len(req.NewNames) != len(req.NewSymbols) {
		return Plan{}, protocol.Errorf(protocol.CodeValidation,
			"new item names (%d) and symbols (%d) differ in length", len(req.NewNames), len(req.NewSymbols))
	}
	if len(req.Existing)+len(req.NewNames) != len(req.SupplyCaps) {
		return Plan{}, protocol.Errorf(protocol.CodeValidation,
			"existing (%d) + new (%d) items != supply caps (%d)", len(req.Existing), len(req.NewNames), len(req.SupplyCaps))
	}
	if req.TotalPieces > ledger.MaxAmount {
		return Plan{}, protocol.Errorf(protocol.CodeValidation, "total piece count %d out of range", req.TotalPieces)
	}

	p := Plan{TotalPieces: req.TotalPieces}
	seen := make(map[common.Address]struct{}, len(req.Existing))
	for i, id := range req.Existing {
		if id == (common.Address{}) {
			return Plan{}, protocol.Errorf(protocol.CodeValidation, "existing item %d is the zero address", i)
		}
		if _, dup := seen[id]; dup {
			return Plan{}, protocol.Errorf(protocol.CodeValidation, "existing item %s listed twice", id.Hex())
		}
		seen[id] = struct{}{}
		p.Reuse = append(p.Reuse, Reuse{Resource: id, Cap: req.SupplyCaps[i]})
	}
	symbols := make(map[string]struct{}, len(req.NewSymbols))
	for i := range req.NewNames {
		m := Material{Name: req.NewNames[i], Symbol: req.NewSymbols[i], Cap: req.SupplyCaps[len(req.Existing)+i]}
		if m.Name == "" || m.Symbol == "" {
			return Plan{}, protocol.Errorf(protocol.CodeValidation, "new item %d needs a name and a symbol", i)
		}
		if _, dup := symbols[m.Symbol]; dup {
			return Plan{}, protocol.Errorf(protocol.CodeValidation, "new item symbol %q listed twice", m.Symbol)
		}
		symbols[m.Symbol] = struct{}{}
		p.Create = append(p.Create, m)
	}
	return p, nil
}

// Open validates caller and plan against the ledger, creates the new pools and
// records the next season. Resource order is reused first, then created, each
// in request order.
func Open(tx *ledger.Txn, factory resource.Factory, caller common.Address, req Request, now time.Time) (ledger.Season, error) {
	if err := access.Require(tx, access.AdminRole, caller); err != nil {
		return ledger.Season{}, err
	}
	plan, err := Classify(req)
	if err != nil {
		return ledger.Season{}, err
	}

	index := tx.Meta().CurrentSeason + 1
	resources := make([]common.Address, 0, len(plan.Reuse)+len(plan.Create))
	reused := make(map[string]bool, len(plan.Reuse))
	for _, r := range plan.Reuse {
		if err := resource.SetCap(tx, r.Resource, r.Cap, index); err != nil {
			return ledger.Season{}, err
		}
		pool, err := resource.Lookup(tx, r.Resource)
		if err != nil {
			return ledger.Season{}, err
		}
		reused[pool.Symbol] = true
		resources = append(resources, r.Resource)
	}
	for _, m := range plan.Create {
		if reused[m.Symbol] {
			return ledger.Season{}, protocol.Errorf(protocol.CodeValidation, "new item symbol %q is already used by a reused item", m.Symbol)
		}
		id, err := factory.Create(tx, m.Name, m.Symbol, m.Cap, index)
		if err != nil {
			return ledger.Season{}, err
		}
		resources = append(resources, id)
	}

	s := ledger.Season{
		Index:       index,
		Resources:   resources,
		Existing:    len(plan.Reuse),
		TotalPieces: plan.TotalPieces,
		OpenedAt:    now.UTC(),
	}
	tx.PutSeason(s)
	tx.Meta().CurrentSeason = index
	tx.Emit(ledger.KindStartSeason, index, ledger.StartSeason{
		Season:      index,
		Items:       resources,
		Existing:    s.Existing,
		TotalPieces: s.TotalPieces,
	})
	return s, nil
}

func Get(tx *ledger.Txn, index int) (ledger.Season, error) {
	s, ok := tx.Season(index)
	if !ok {
		return ledger.Season{}, protocol.Errorf(protocol.CodeNotFound, "season %d", index)
	}
	return s, nil
}

// Current returns the season that accepts zone configuration and mints.
func Current(tx *ledger.Txn, index int) (ledger.Season, error) {
	s, err := Get(tx, index)
	if err != nil {
		return s, err
	}
	if cur := tx.Meta().CurrentSeason; index != cur {
		return s, protocol.Errorf(protocol.CodeValidation, "season %d is closed; current season is %d", index, cur)
	}
	return s, nil
}
