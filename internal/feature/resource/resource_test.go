package resource

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

var (
	factory = Factory{Deployer: common.HexToAddress("0xd0")}
	player  = common.HexToAddress("0xa1")
	other   = common.HexToAddress("0xa2")
)

func newPools(t *testing.T, tx *ledger.Txn) (sand, hammer common.Address) {
	t.Helper()
	var err error
	if sand, err = factory.Create(tx, "sand", "SND", 65, 1); err != nil {
		t.Fatalf("create sand: %v", err)
	}
	if hammer, err = factory.Create(tx, "hammer", "HMR", 50, 1); err != nil {
		t.Fatalf("create hammer: %v", err)
	}
	return sand, hammer
}

func TestFactory_IDsAreUniqueAndDeterministic(t *testing.T) {
	s := ledger.NewState()
	tx := s.Begin()
	want := factory.NextID(tx)
	sand, hammer := newPools(t, tx)
	if sand != want {
		t.Fatalf("first id=%s want %s", sand.Hex(), want.Hex())
	}
	if sand == hammer {
		t.Fatalf("ids collide")
	}
	if tx.Meta().Nonce != 2 {
		t.Fatalf("nonce=%d want 2", tx.Meta().Nonce)
	}
	p, err := Lookup(tx, hammer)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Name != "hammer" || p.Symbol != "HMR" || p.Cap != 50 || p.Minted != 0 {
		t.Fatalf("unexpected pool %+v", p)
	}
}

func TestFactory_RejectsBlankMaterial(t *testing.T) {
	tx := ledger.NewState().Begin()
	if _, err := factory.Create(tx, " ", "X", 1, 1); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if tx.Meta().Nonce != 0 {
		t.Fatalf("nonce advanced on rejected create")
	}
}

func TestMint_EnforcesCap(t *testing.T) {
	tx := ledger.NewState().Begin()
	sand, _ := newPools(t, tx)

	if err := Mint(tx, sand, player, 60); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := Mint(tx, sand, player, 6); !errors.Is(err, protocol.ErrSupplyCapExceeded) {
		t.Fatalf("expected cap error, got %v", err)
	}
	if err := Mint(tx, sand, other, 5); err != nil {
		t.Fatalf("mint to cap: %v", err)
	}
	p, _ := Lookup(tx, sand)
	if p.Minted != 65 || p.Remaining() != 0 {
		t.Fatalf("pool after mints: %+v", p)
	}
}

func TestSetCap(t *testing.T) {
	tx := ledger.NewState().Begin()
	_, hammer := newPools(t, tx)
	if err := Mint(tx, hammer, player, 20); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := SetCap(tx, hammer, 10, 2); !errors.Is(err, protocol.ErrSupplyCapExceeded) {
		t.Fatalf("expected cap below minted rejected, got %v", err)
	}
	if err := SetCap(tx, hammer, 30, 2); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	p, _ := Lookup(tx, hammer)
	if p.Cap != 30 {
		t.Fatalf("cap=%d want 30", p.Cap)
	}
}

func TestTransfer(t *testing.T) {
	tx := ledger.NewState().Begin()
	sand, _ := newPools(t, tx)
	_ = Mint(tx, sand, player, 5)

	if err := Transfer(tx, sand, player, other, 6); !errors.Is(err, protocol.ErrInsufficientResource) {
		t.Fatalf("expected insufficient, got %v", err)
	}
	if err := Transfer(tx, sand, player, other, 2); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tx.Balance(sand, player) != 3 || tx.Balance(sand, other) != 2 {
		t.Fatalf("balances %d/%d", tx.Balance(sand, player), tx.Balance(sand, other))
	}
}

func TestConsume_AllOrNothing(t *testing.T) {
	tx := ledger.NewState().Begin()
	sand, hammer := newPools(t, tx)
	_ = Mint(tx, sand, player, 3)
	_ = Mint(tx, hammer, player, 3)

	reqs := []ledger.Requirement{{Resource: sand, Amount: 3}, {Resource: hammer, Amount: 4}}
	if err := Consume(tx, player, reqs, 1); !errors.Is(err, protocol.ErrInsufficientResource) {
		t.Fatalf("expected insufficient, got %v", err)
	}
	if tx.Balance(sand, player) != 3 || tx.Balance(hammer, player) != 3 {
		t.Fatalf("partial debit: sand=%d hammer=%d", tx.Balance(sand, player), tx.Balance(hammer, player))
	}

	reqs[1].Amount = 2
	if err := Consume(tx, player, reqs, 1); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if tx.Balance(sand, player) != 0 || tx.Balance(hammer, player) != 1 {
		t.Fatalf("after consume: sand=%d hammer=%d", tx.Balance(sand, player), tx.Balance(hammer, player))
	}
	p, _ := Lookup(tx, hammer)
	if p.Burned != 2 || p.Supply() != 1 {
		t.Fatalf("hammer pool %+v", p)
	}
}

func TestCheck_SumsRepeatedResources(t *testing.T) {
	tx := ledger.NewState().Begin()
	sand, _ := newPools(t, tx)
	_ = Mint(tx, sand, player, 3)

	short, err := Check(tx, player, []ledger.Requirement{{Resource: sand, Amount: 2}, {Resource: sand, Amount: 2}})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(short) != 1 || short[0].Need != 4 || short[0].Have != 3 {
		t.Fatalf("unexpected shortfall %+v", short)
	}
}

func TestCheck_UnknownResource(t *testing.T) {
	tx := ledger.NewState().Begin()
	_, err := Check(tx, player, []ledger.Requirement{{Resource: common.HexToAddress("0xdead"), Amount: 1}})
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
