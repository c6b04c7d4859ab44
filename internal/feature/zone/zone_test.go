package zone

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/feature/access"
	"duzzle.ai/internal/feature/resource"
	"duzzle.ai/internal/feature/season"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

var (
	owner   = common.HexToAddress("0x0a")
	addr1   = common.HexToAddress("0x0b")
	factory = resource.Factory{Deployer: common.HexToAddress("0xd0")}

	pieceCountOfZones = []uint64{4, 5, 3, 7, 2, 10, 3, 7, 7, 9, 11, 3, 4, 4, 6, 12, 3, 8, 5, 2}
)

func openSeason1(t *testing.T) (*ledger.Txn, ledger.Season) {
	t.Helper()
	tx := ledger.NewState().Begin()
	tx.Meta().ZoneCount = 20
	access.Bootstrap(tx, access.AdminRole, owner)
	s, err := season.Open(tx, factory, owner, season.Request{
		NewNames:    []string{"sand", "hammer"},
		NewSymbols:  []string{"SND", "HMR"},
		SupplyCaps:  []uint64{65, 50},
		TotalPieces: 115,
	}, time.Now())
	if err != nil {
		t.Fatalf("open season: %v", err)
	}
	return tx, s
}

func zoneConfig(s ledger.Season, i int) Config {
	m0, m1 := s.Resources[0], s.Resources[1]
	cfg := Config{Season: s.Index, Zone: i, PieceCount: pieceCountOfZones[i]}
	switch i {
	case 0:
		cfg.Resources, cfg.Amounts = []common.Address{m0, m1}, []uint64{1, 1}
	case 1:
		cfg.Resources, cfg.Amounts = []common.Address{m0}, []uint64{2}
	case 2:
		cfg.Resources, cfg.Amounts = []common.Address{m1}, []uint64{2}
	case 3:
		cfg.Resources, cfg.Amounts = []common.Address{m1}, []uint64{1}
	case 4:
		cfg.Resources, cfg.Amounts = []common.Address{m0, m1}, []uint64{3, 4}
	case 5:
		cfg.Resources, cfg.Amounts = []common.Address{m0, m1}, []uint64{2, 2}
	default:
		cfg.Resources, cfg.Amounts = []common.Address{m0}, []uint64{1}
	}
	return cfg
}

func TestSet_EchoesEveryZone(t *testing.T) {
	tx, s := openSeason1(t)
	var total uint64
	for i := 0; i < 20; i++ {
		before := len(tx.Events())
		cfg := zoneConfig(s, i)
		if err := Set(tx, owner, cfg); err != nil {
			t.Fatalf("zone %d: %v", i, err)
		}
		evs := tx.Events()[before:]
		if len(evs) != 1 || evs[0].Kind != ledger.KindSetZoneData {
			t.Fatalf("zone %d: events %+v", i, evs)
		}
		var body ledger.SetZoneData
		if err := evs[0].Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.ZoneID != i || body.PieceCount != cfg.PieceCount ||
			!slices.Equal(body.RequiredItems, cfg.Resources) || !slices.Equal(body.RequiredAmounts, cfg.Amounts) {
			t.Fatalf("zone %d: echo %+v != %+v", i, body, cfg)
		}
		total += cfg.PieceCount
	}
	if total != 115 {
		t.Fatalf("piece counts sum to %d want 115", total)
	}
	st, err := Reconcile(tx, s.Index)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !st.Ready || st.Configured != 20 || st.ConfiguredPieces != 115 {
		t.Fatalf("status %+v", st)
	}
}

func TestSet_LastWriteWins(t *testing.T) {
	tx, s := openSeason1(t)
	first := Config{Season: s.Index, Zone: 3, PieceCount: 7, Resources: []common.Address{s.Resources[1]}, Amounts: []uint64{1}}
	second := Config{Season: s.Index, Zone: 3, PieceCount: 6, Resources: []common.Address{s.Resources[0], s.Resources[1]}, Amounts: []uint64{2, 5}}
	if err := Set(tx, owner, first); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := Set(tx, owner, second); err != nil {
		t.Fatalf("second: %v", err)
	}
	z, err := Get(tx, s.Index, 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if z.PieceCount != 6 || !slices.Equal(z.Resources(), second.Resources) || !slices.Equal(z.Amounts(), second.Amounts) {
		t.Fatalf("zone=%+v want second payload", z)
	}
	r := &ledger.Receipt{Events: tx.Events()}
	evs := r.FindAll(ledger.KindSetZoneData)
	if len(evs) != 2 {
		t.Fatalf("SetZoneData events=%d want 2", len(evs))
	}
	var a, b ledger.SetZoneData
	_ = evs[0].Decode(&a)
	_ = evs[1].Decode(&b)
	if a.PieceCount != 7 || b.PieceCount != 6 {
		t.Fatalf("events do not match their calls: %+v / %+v", a, b)
	}
}

func TestSet_Rejections(t *testing.T) {
	tx, s := openSeason1(t)
	good := zoneConfig(s, 0)

	cases := []struct {
		name   string
		caller common.Address
		mutate func(*Config)
		want   error
	}{
		{"non-admin", addr1, func(*Config) {}, protocol.ErrUnauthorized},
		{"length mismatch", owner, func(c *Config) { c.Amounts = []uint64{1} }, protocol.ErrValidation},
		{"zone too high", owner, func(c *Config) { c.Zone = 20 }, protocol.ErrInvalidZone},
		{"negative zone", owner, func(c *Config) { c.Zone = -1 }, protocol.ErrInvalidZone},
		{"unknown season", owner, func(c *Config) { c.Season = 9 }, protocol.ErrNotFound},
		{"unknown resource", owner, func(c *Config) { c.Resources = []common.Address{{9}, s.Resources[1]} }, protocol.ErrNotFound},
	}
	for _, c := range cases {
		cfg := good
		cfg.Resources = slices.Clone(good.Resources)
		cfg.Amounts = slices.Clone(good.Amounts)
		c.mutate(&cfg)
		if err := Set(tx, c.caller, cfg); !errors.Is(err, c.want) {
			t.Fatalf("%s: got %v want %v", c.name, err, c.want)
		}
	}
	if _, ok := tx.Zone(s.Index, 0); ok {
		t.Fatalf("rejected calls configured zone 0")
	}
}

func TestSet_ResourceMustBelongToSeason(t *testing.T) {
	tx, s := openSeason1(t)
	foreign, err := factory.Create(tx, "dal", "DAL", 10, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = Set(tx, owner, Config{Season: s.Index, Zone: 0, PieceCount: 1, Resources: []common.Address{foreign}, Amounts: []uint64{1}})
	if !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSet_OnlyCurrentSeason(t *testing.T) {
	tx, s1 := openSeason1(t)
	if _, err := season.Open(tx, factory, owner, season.Request{}, time.Now()); err != nil {
		t.Fatalf("open s2: %v", err)
	}
	if err := Set(tx, owner, zoneConfig(s1, 0)); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected closed season rejected, got %v", err)
	}
}

func TestReadiness(t *testing.T) {
	tx, s := openSeason1(t)
	if err := RequireReady(tx, s.Index); !errors.Is(err, protocol.ErrSeasonNotReady) {
		t.Fatalf("unconfigured season ready? %v", err)
	}
	for i := 0; i < 19; i++ {
		_ = Set(tx, owner, zoneConfig(s, i))
	}
	st, _ := Reconcile(tx, s.Index)
	if st.Ready || !slices.Equal(st.Missing, []int{19}) {
		t.Fatalf("status %+v", st)
	}

	// All zones configured, but zone 19 overshoots the declared total.
	over := zoneConfig(s, 19)
	over.PieceCount = 3
	_ = Set(tx, owner, over)
	if err := RequireReady(tx, s.Index); !errors.Is(err, protocol.ErrSeasonNotReady) {
		t.Fatalf("overshoot accepted: %v", err)
	}

	_ = Set(tx, owner, zoneConfig(s, 19))
	if err := RequireReady(tx, s.Index); err != nil {
		t.Fatalf("expected ready: %v", err)
	}
}

func TestSet_ConfigurationOrderDoesNotMatter(t *testing.T) {
	txA, sA := openSeason1(t)
	txB, sB := openSeason1(t)
	for i := 0; i < 20; i++ {
		_ = Set(txA, owner, zoneConfig(sA, i))
		_ = Set(txB, owner, zoneConfig(sB, 19-i))
	}
	for i := 0; i < 20; i++ {
		za, _ := Get(txA, sA.Index, i)
		zb, _ := Get(txB, sB.Index, i)
		if za.PieceCount != zb.PieceCount || !slices.Equal(za.Amounts(), zb.Amounts()) {
			t.Fatalf("zone %d differs by order: %+v vs %+v", i, za, zb)
		}
	}
}
