// Package piece is the puzzle-piece collectible ledger. Issuance is limited
// to holders of the minter role.
package piece

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/feature/access"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

type Origin struct {
	Season int
	Zone   int
}

// Issue creates the next token for to. Token ids start at 0.
func Issue(tx *ledger.Txn, caller, to common.Address, contentRef string, origin Origin) (uint64, error) {
	if err := access.Require(tx, access.MinterRole, caller); err != nil {
		return 0, err
	}
	if to == (common.Address{}) {
		return 0, protocol.Errorf(protocol.CodeValidation, "mint to the zero address")
	}
	meta := tx.Meta()
	id := meta.NextPiece
	meta.NextPiece++

	tx.PutPiece(ledger.Piece{
		ID:         id,
		Owner:      to,
		Season:     origin.Season,
		Zone:       origin.Zone,
		ContentRef: contentRef,
	})
	tx.SetPieceBalance(to, tx.PieceBalance(to)+1)
	tx.Emit(ledger.KindTransfer, origin.Season, ledger.Transfer{To: to, TokenID: id})
	tx.Emit(ledger.KindMint, origin.Season, ledger.Mint{To: to, TokenID: id})
	return id, nil
}

func Get(tx *ledger.Txn, id uint64) (ledger.Piece, error) {
	p, ok := tx.Piece(id)
	if !ok {
		return ledger.Piece{}, protocol.Errorf(protocol.CodeNotFound, "piece %d", id)
	}
	return p, nil
}

func OwnerOf(tx *ledger.Txn, id uint64) (common.Address, error) {
	p, err := Get(tx, id)
	if err != nil {
		return common.Address{}, err
	}
	return p.Owner, nil
}

// Approve lets approved move one token on the owner's behalf. The zero
// address clears the approval.
func Approve(tx *ledger.Txn, caller, approved common.Address, id uint64) error {
	p, err := Get(tx, id)
	if err != nil {
		return err
	}
	if p.Owner != caller {
		return protocol.Errorf(protocol.CodeUnauthorized, "%s does not own piece %d", caller.Hex(), id)
	}
	p.Approved = approved
	tx.PutPiece(p)
	tx.Emit(ledger.KindApproval, p.Season, ledger.Approval{Owner: p.Owner, Approved: approved, TokenID: id})
	return nil
}

func Transfer(tx *ledger.Txn, caller, from, to common.Address, id uint64) error {
	p, err := Get(tx, id)
	if err != nil {
		return err
	}
	if p.Owner != from {
		return protocol.Errorf(protocol.CodeValidation, "piece %d is not owned by %s", id, from.Hex())
	}
	if caller != from && (p.Approved == (common.Address{}) || p.Approved != caller) {
		return protocol.Errorf(protocol.CodeUnauthorized, "%s may not transfer piece %d", caller.Hex(), id)
	}
	if to == (common.Address{}) {
		return protocol.Errorf(protocol.CodeValidation, "transfer to the zero address")
	}
	p.Owner = to
	p.Approved = common.Address{}
	tx.PutPiece(p)
	tx.SetPieceBalance(from, tx.PieceBalance(from)-1)
	tx.SetPieceBalance(to, tx.PieceBalance(to)+1)
	tx.Emit(ledger.KindTransfer, p.Season, ledger.Transfer{From: from, To: to, TokenID: id})
	return nil
}

// TokenURI joins the collection base URI and the piece content reference.
func TokenURI(baseURI string, p ledger.Piece) string {
	if p.ContentRef == "" {
		return baseURI
	}
	if baseURI == "" {
		return p.ContentRef
	}
	return strings.TrimRight(baseURI, "/") + "/" + strings.TrimLeft(p.ContentRef, "/")
}
