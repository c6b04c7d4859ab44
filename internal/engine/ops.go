package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/feature/access"
	"duzzle.ai/internal/feature/mint"
	"duzzle.ai/internal/feature/piece"
	"duzzle.ai/internal/feature/resource"
	"duzzle.ai/internal/feature/season"
	"duzzle.ai/internal/feature/zone"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

// OpenSeason starts the next season. The returned season lists the resolved
// material ids: reused first, then newly created, each in request order.
func (e *Engine) OpenSeason(ctx context.Context, caller common.Address, req season.Request) (ledger.Season, *ledger.Receipt, error) {
	var s ledger.Season
	r, err := e.exec(ctx, "open_season", true, func(tx *ledger.Txn) error {
		var err error
		s, err = season.Open(tx, e.factory(tx), caller, req, e.now())
		return err
	})
	if err != nil {
		return ledger.Season{}, nil, err
	}
	return s, r, nil
}

func (e *Engine) SetZoneData(ctx context.Context, caller common.Address, cfg zone.Config) (*ledger.Receipt, error) {
	return e.exec(ctx, "set_zone_data", true, func(tx *ledger.Txn) error {
		return zone.Set(tx, caller, cfg)
	})
}

// MintPiece burns the zone's requirements from requester and issues one piece
// through the engine's minter capability.
func (e *Engine) MintPiece(ctx context.Context, req mint.Request) (mint.Result, *ledger.Receipt, error) {
	var res mint.Result
	r, err := e.exec(ctx, "mint_piece", true, func(tx *ledger.Txn) error {
		var err error
		res, err = mint.Gate{Self: tx.Meta().Self}.Mint(tx, req)
		return err
	})
	if err != nil {
		return mint.Result{}, nil, err
	}
	return res, r, nil
}

// IssuePiece calls the collectible ledger's issue primitive directly. Only
// holders of the minter role succeed.
func (e *Engine) IssuePiece(ctx context.Context, caller, to common.Address, contentRef string) (uint64, *ledger.Receipt, error) {
	var id uint64
	r, err := e.exec(ctx, "issue_piece", true, func(tx *ledger.Txn) error {
		var err error
		id, err = piece.Issue(tx, caller, to, contentRef, piece.Origin{})
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return id, r, nil
}

// MintResource credits materials or DAL to an account. Admin only.
func (e *Engine) MintResource(ctx context.Context, caller, id, to common.Address, amount uint64) (*ledger.Receipt, error) {
	return e.exec(ctx, "mint_resource", true, func(tx *ledger.Txn) error {
		if err := access.Require(tx, access.AdminRole, caller); err != nil {
			return err
		}
		return resource.Mint(tx, id, to, amount)
	})
}

func (e *Engine) TransferResource(ctx context.Context, caller, id, to common.Address, amount uint64) (*ledger.Receipt, error) {
	return e.exec(ctx, "transfer_resource", true, func(tx *ledger.Txn) error {
		return resource.Transfer(tx, id, caller, to, amount)
	})
}

func (e *Engine) TransferPiece(ctx context.Context, caller, from, to common.Address, id uint64) (*ledger.Receipt, error) {
	return e.exec(ctx, "transfer_piece", true, func(tx *ledger.Txn) error {
		return piece.Transfer(tx, caller, from, to, id)
	})
}

func (e *Engine) ApprovePiece(ctx context.Context, caller, approved common.Address, id uint64) (*ledger.Receipt, error) {
	return e.exec(ctx, "approve_piece", true, func(tx *ledger.Txn) error {
		return piece.Approve(tx, caller, approved, id)
	})
}

func (e *Engine) GrantRole(ctx context.Context, caller common.Address, role common.Hash, account common.Address) (*ledger.Receipt, error) {
	return e.exec(ctx, "grant_role", true, func(tx *ledger.Txn) error {
		return access.Grant(tx, caller, role, account)
	})
}

// RevokeRole removes role from account. The last administrator cannot revoke
// itself; use TransferAdmin instead.
func (e *Engine) RevokeRole(ctx context.Context, caller common.Address, role common.Hash, account common.Address) (*ledger.Receipt, error) {
	return e.exec(ctx, "revoke_role", true, func(tx *ledger.Txn) error {
		if role == access.AdminRole && account == tx.Meta().Owner {
			return protocol.Errorf(protocol.CodeValidation, "cannot revoke the owner's admin role; transfer it instead")
		}
		return access.Revoke(tx, caller, role, account)
	})
}

func (e *Engine) TransferAdmin(ctx context.Context, caller, next common.Address) (*ledger.Receipt, error) {
	return e.exec(ctx, "transfer_admin", true, func(tx *ledger.Txn) error {
		return access.TransferAdmin(tx, caller, next)
	})
}
