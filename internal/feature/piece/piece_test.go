package piece

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/feature/access"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

var (
	owner = common.HexToAddress("0x0a")
	addr1 = common.HexToAddress("0x0b")
	addr2 = common.HexToAddress("0x0c")
)

func newTxn() *ledger.Txn {
	tx := ledger.NewState().Begin()
	access.Bootstrap(tx, access.MinterRole, owner)
	return tx
}

func TestIssue_SequentialIDsAndBalances(t *testing.T) {
	tx := newTxn()
	id1, err := Issue(tx, owner, owner, "puzzle/0", Origin{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id2, _ := Issue(tx, owner, owner, "puzzle/1", Origin{})
	id3, _ := Issue(tx, owner, addr1, "puzzle/1", Origin{})
	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Fatalf("ids=%d,%d,%d", id1, id2, id3)
	}
	if tx.PieceBalance(owner) != 2 || tx.PieceBalance(addr1) != 1 {
		t.Fatalf("balances %d/%d", tx.PieceBalance(owner), tx.PieceBalance(addr1))
	}
	if o, _ := OwnerOf(tx, id3); o != addr1 {
		t.Fatalf("owner of %d = %s", id3, o.Hex())
	}
}

func TestIssue_OnlyMinters(t *testing.T) {
	tx := newTxn()
	_, err := Issue(tx, addr1, addr1, "", Origin{})
	if !errors.Is(err, protocol.ErrUnauthorizedMinter) {
		t.Fatalf("expected unauthorized minter, got %v", err)
	}
	if tx.Meta().NextPiece != 0 {
		t.Fatalf("token id consumed by rejected issue")
	}
}

func TestIssue_EmitsTransferThenMint(t *testing.T) {
	tx := newTxn()
	before := len(tx.Events())
	if _, err := Issue(tx, owner, addr1, "puzzle/0", Origin{}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	evs := tx.Events()[before:]
	if len(evs) != 2 || evs[0].Kind != ledger.KindTransfer || evs[1].Kind != ledger.KindMint {
		t.Fatalf("unexpected events %+v", evs)
	}
	var tr ledger.Transfer
	if err := evs[0].Decode(&tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.From != (common.Address{}) || tr.To != addr1 || tr.TokenID != 0 {
		t.Fatalf("transfer event %+v", tr)
	}
}

func TestTransfer(t *testing.T) {
	tx := newTxn()
	id, _ := Issue(tx, owner, owner, "", Origin{})

	if err := Transfer(tx, addr1, owner, addr1, id); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := Transfer(tx, owner, owner, addr1, id); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if o, _ := OwnerOf(tx, id); o != addr1 {
		t.Fatalf("owner=%s want %s", o.Hex(), addr1.Hex())
	}
	if tx.PieceBalance(owner) != 0 || tx.PieceBalance(addr1) != 1 {
		t.Fatalf("balances not moved")
	}
}

func TestApproveAllowsOneTransfer(t *testing.T) {
	tx := newTxn()
	id, _ := Issue(tx, owner, addr1, "", Origin{})

	if err := Approve(tx, owner, addr2, id); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("non-owner approve: %v", err)
	}
	if err := Approve(tx, addr1, addr2, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := Transfer(tx, addr2, addr1, addr2, id); err != nil {
		t.Fatalf("approved transfer: %v", err)
	}
	p, _ := Get(tx, id)
	if p.Approved != (common.Address{}) {
		t.Fatalf("approval not cleared")
	}
	if err := Transfer(tx, addr1, addr2, addr1, id); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("stale approval reused: %v", err)
	}
}

func TestTokenURI(t *testing.T) {
	cases := []struct {
		base, ref, want string
	}{
		{"localhost:8000/v1/blueprint", "puzzle/0", "localhost:8000/v1/blueprint/puzzle/0"},
		{"base/", "/puzzle/1", "base/puzzle/1"},
		{"", "puzzle/2", "puzzle/2"},
		{"base", "", "base"},
	}
	for _, c := range cases {
		if got := TokenURI(c.base, ledger.Piece{ContentRef: c.ref}); got != c.want {
			t.Fatalf("TokenURI(%q,%q)=%q want %q", c.base, c.ref, got, c.want)
		}
	}
}
