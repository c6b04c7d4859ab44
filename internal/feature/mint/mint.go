// Package mint is the gated path from materials to puzzle pieces: it debits a
// zone's requirements from the requester and issues one piece in the same
// transaction.
package mint

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/feature/piece"
	"duzzle.ai/internal/feature/resource"
	"duzzle.ai/internal/feature/season"
	"duzzle.ai/internal/feature/zone"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

// Gate holds the minter capability. Self must be the address the MINTER role
// was granted to at initialization.
type Gate struct {
	Self common.Address
}

type Request struct {
	Season     int
	Zone       int
	Requester  common.Address
	ContentRef string
}

type Result struct {
	TokenID    uint64
	Season     int
	Zone       int
	ContentRef string
	Debited    []ledger.Requirement
}

// DefaultContentRef names a piece when the requester did not supply one.
func DefaultContentRef(seasonIndex, zoneIndex int, n uint64) string {
	return fmt.Sprintf("puzzle/%d/%d/%d", seasonIndex, zoneIndex, n)
}

// Mint checks the zone, burns its requirements from the requester and issues
// the piece. Any failure leaves tx unusable; callers discard it.
func (g Gate) Mint(tx *ledger.Txn, req Request) (Result, error) {
	if req.Requester == (common.Address{}) {
		return Result{}, protocol.Errorf(protocol.CodeValidation, "requester is the zero address")
	}
	s, err := season.Current(tx, req.Season)
	if err != nil {
		return Result{}, err
	}
	if err := zone.CheckIndex(tx, req.Zone); err != nil {
		return Result{}, err
	}
	if err := zone.RequireReady(tx, s.Index); err != nil {
		return Result{}, err
	}
	z, err := zone.Get(tx, s.Index, req.Zone)
	if err != nil {
		return Result{}, err
	}
	if z.Remaining() == 0 {
		return Result{}, protocol.Errorf(protocol.CodeZoneExhausted,
			"zone %d of season %d minted all %d pieces", z.Index, s.Index, z.PieceCount)
	}

	if err := resource.Consume(tx, req.Requester, z.Requirements, s.Index); err != nil {
		return Result{}, err
	}

	ref := req.ContentRef
	if ref == "" {
		ref = DefaultContentRef(s.Index, z.Index, z.Minted)
	}
	z.Minted++
	tx.PutZone(z)

	id, err := piece.Issue(tx, g.Self, req.Requester, ref, piece.Origin{Season: s.Index, Zone: z.Index})
	if err != nil {
		return Result{}, err
	}
	tx.Emit(ledger.KindPuzzlePieceMinted, s.Index, ledger.PuzzlePieceMinted{
		Season:  s.Index,
		ZoneID:  z.Index,
		To:      req.Requester,
		TokenID: id,
	})
	return Result{
		TokenID:    id,
		Season:     s.Index,
		Zone:       z.Index,
		ContentRef: ref,
		Debited:    z.Requirements,
	}, nil
}
