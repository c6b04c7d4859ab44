package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0xa1")
	sand  = common.HexToAddress("0x5a")
)

func TestTxn_WritesInvisibleUntilApplied(t *testing.T) {
	s := NewState()
	s.Balances[BalanceKey{Resource: sand, Account: alice}] = 5

	tx := s.Begin()
	tx.SetBalance(sand, alice, 2)
	tx.Meta().Nonce = 7
	tx.Emit(KindResourceTransfer, 0, ResourceTransfer{Resource: sand, From: alice, Amount: 3})

	if got := tx.Balance(sand, alice); got != 2 {
		t.Fatalf("txn balance=%d want 2", got)
	}
	if got := s.Balances[BalanceKey{Resource: sand, Account: alice}]; got != 5 {
		t.Fatalf("base balance changed before apply: %d", got)
	}
	if s.Meta.Nonce != 0 || s.Meta.NextEvent != 0 {
		t.Fatalf("base meta changed before apply: %+v", s.Meta)
	}

	s.Apply(tx.Changes())
	if got := s.Balances[BalanceKey{Resource: sand, Account: alice}]; got != 2 {
		t.Fatalf("applied balance=%d want 2", got)
	}
	if s.Meta.Nonce != 7 || s.Meta.NextEvent != 1 {
		t.Fatalf("meta not applied: %+v", s.Meta)
	}
}

func TestTxn_ZeroBalancesAreDropped(t *testing.T) {
	s := NewState()
	s.Balances[BalanceKey{Resource: sand, Account: alice}] = 1
	tx := s.Begin()
	tx.SetBalance(sand, alice, 0)
	s.Apply(tx.Changes())
	if _, ok := s.Balances[BalanceKey{Resource: sand, Account: alice}]; ok {
		t.Fatalf("expected zero balance row removed")
	}
}

func TestTxn_SlicesAreCopied(t *testing.T) {
	s := NewState()
	reqs := []Requirement{{Resource: sand, Amount: 1}}
	tx := s.Begin()
	tx.PutZone(Zone{Season: 1, Index: 0, PieceCount: 4, Requirements: reqs})
	reqs[0].Amount = 99

	z, ok := tx.Zone(1, 0)
	if !ok {
		t.Fatalf("zone missing")
	}
	if z.Requirements[0].Amount != 1 {
		t.Fatalf("zone aliased caller slice: %+v", z.Requirements)
	}

	tx.PutSeason(Season{Index: 1, Resources: []common.Address{sand}, TotalPieces: 4})
	s.Apply(tx.Changes())

	// Reads from committed state hand out copies too.
	read := s.Begin()
	se, _ := read.Season(1)
	se.Resources[0] = alice
	z, _ = read.Zone(1, 0)
	z.Requirements[0].Amount = 7

	again := s.Begin()
	if se, _ := again.Season(1); se.Resources[0] != sand {
		t.Fatalf("committed season mutated through a read: %v", se.Resources)
	}
	if z, _ := again.Zone(1, 0); z.Requirements[0].Amount != 1 {
		t.Fatalf("committed zone mutated through a read: %+v", z.Requirements)
	}
}

func TestTxn_EmitPanicsOnUnencodableBody(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewState().Begin().Emit(KindRoleGranted, 0, make(chan int))
}

func TestState_DumpRebuildsState(t *testing.T) {
	s := NewState()
	tx := s.Begin()
	tx.PutPool(Pool{ID: sand, Name: "sand", Symbol: "SND", Cap: 65, Minted: 3, Season: 1})
	tx.SetBalance(sand, alice, 3)
	tx.PutSeason(Season{Index: 1, Resources: []common.Address{sand}, TotalPieces: 4})
	tx.PutZone(Zone{Season: 1, Index: 0, PieceCount: 4, Requirements: []Requirement{{Resource: sand, Amount: 1}}})
	tx.PutPiece(Piece{ID: 0, Owner: alice, Season: 1, ContentRef: "puzzle/0"})
	tx.SetPieceBalance(alice, 1)
	tx.SetRole(common.HexToHash("0x01"), alice, true)
	s.Apply(tx.Changes())

	rebuilt := NewState()
	rebuilt.Apply(s.Dump())

	if rebuilt.Pools[sand] != s.Pools[sand] {
		t.Fatalf("pool mismatch: %+v vs %+v", rebuilt.Pools[sand], s.Pools[sand])
	}
	if rebuilt.Balances[BalanceKey{Resource: sand, Account: alice}] != 3 {
		t.Fatalf("balance not rebuilt")
	}
	if got := rebuilt.Zones[ZoneKey{Season: 1, Zone: 0}]; got.PieceCount != 4 || len(got.Requirements) != 1 {
		t.Fatalf("zone not rebuilt: %+v", got)
	}
	if rebuilt.Pieces[0].Owner != alice || rebuilt.PieceBalances[alice] != 1 {
		t.Fatalf("piece not rebuilt")
	}
	if _, ok := rebuilt.Roles[RoleKey{Role: common.HexToHash("0x01"), Account: alice}]; !ok {
		t.Fatalf("role not rebuilt")
	}
}

func TestKindTopics(t *testing.T) {
	cases := map[Kind]string{
		KindTransfer: "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		KindMint:     "0x0f6798a560793a54c3bcfe86a93cde1e73087d944c0ea20544137d4121396885",
	}
	for k, want := range cases {
		if got := k.Topic().Hex(); got != want {
			t.Fatalf("%s topic=%s want %s", k, got, want)
		}
		back, ok := KindOfTopic(k.Topic())
		if !ok || back != k {
			t.Fatalf("KindOfTopic(%s)=%q,%v", k, back, ok)
		}
	}
	for k := range signatures {
		if k.Topic() == (common.Hash{}) {
			t.Fatalf("kind %s has no topic", k)
		}
	}
}

func TestReceiptFind(t *testing.T) {
	s := NewState()
	tx := s.Begin()
	tx.Emit(KindTransfer, 1, Transfer{To: alice, TokenID: 0})
	tx.Emit(KindMint, 1, Mint{To: alice, TokenID: 0})
	r := &Receipt{Events: tx.Events()}

	ev, ok := r.Find(KindMint)
	if !ok {
		t.Fatalf("mint event missing")
	}
	var m Mint
	if err := ev.Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.To != alice || ev.Seq != 1 {
		t.Fatalf("unexpected mint event: %+v seq=%d", m, ev.Seq)
	}
	if _, ok := r.Find(KindStartSeason); ok {
		t.Fatalf("unexpected StartSeason")
	}
}
