package plan

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/engine"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/persistence/store"
	"duzzle.ai/internal/protocol"
)

var owner = common.HexToAddress("0x0a")

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	e, err := engine.Open(context.Background(), st, engine.Options{})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	if _, err := e.Init(context.Background(), engine.InitParams{
		Owner:      owner,
		DalCap:     500_000,
		ZoneCount:  20,
		Collection: ledger.Collection{Name: "Duzzle Puzzle Piece NFT", Symbol: "DZPZ"},
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return e
}

func mustLoad(t *testing.T, name string) Plan {
	t.Helper()
	p, err := Load(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return p
}

func TestLoad_Season1(t *testing.T) {
	p := mustLoad(t, "season1.yaml")
	if len(p.New) != 2 || len(p.Zones) != 20 || p.Total() != 115 {
		t.Fatalf("plan: %s", p.Describe())
	}
	if got := p.Describe(); got != "materials=[SND HMR] zones=20 pieces=115" {
		t.Fatalf("Describe=%q", got)
	}
}

func TestParse_SchemaErrors(t *testing.T) {
	cases := map[string]string{
		"no zones":          "new: []\n",
		"unknown field":     "zones: [{zone: 0, pieces: 1}]\nextra: 1\n",
		"negative pieces":   "zones: [{zone: 0, pieces: -1}]\n",
		"bad id":            "existing: [{id: nope, cap: 1}]\nzones: [{zone: 0, pieces: 1}]\n",
		"id and symbol":     "existing: [{id: '0x0000000000000000000000000000000000000001', symbol: X, cap: 1}]\nzones: [{zone: 0, pieces: 1}]\n",
		"duplicate zone":    "zones: [{zone: 0, pieces: 1}, {zone: 0, pieces: 2}]\n",
		"unknown item":      "zones: [{zone: 0, pieces: 1, requires: [{item: NOPE, amount: 1}]}]\n",
		"not a yaml object": "- 1\n- 2\n",
		"symbol reused":     "existing: [{symbol: HMR, cap: 1}]\nnew: [{name: hammer, symbol: HMR, cap: 1}]\nzones: [{zone: 0, pieces: 1}]\n",
		"symbol twice":      "new: [{name: a, symbol: A, cap: 1}, {name: b, symbol: A, cap: 1}]\nzones: [{zone: 0, pieces: 1}]\n",
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); !errors.Is(err, protocol.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestApply_TwoSeasons(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var calls []int
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 20 {
			t.Errorf("total=%d", total)
		}
		calls = append(calls, done)
	}

	s1, err := Apply(ctx, e, owner, mustLoad(t, "season1.yaml"), ApplyOptions{Parallel: 4, Progress: progress})
	if err != nil {
		t.Fatalf("apply season 1: %v", err)
	}
	if len(calls) != 20 {
		t.Fatalf("progress calls=%d", len(calls))
	}
	st, err := e.SeasonStatus(s1.Index)
	if err != nil || !st.Ready {
		t.Fatalf("season 1 status=%+v err=%v", st, err)
	}

	s2, err := Apply(ctx, e, owner, mustLoad(t, "season2.yaml"), ApplyOptions{})
	if err != nil {
		t.Fatalf("apply season 2: %v", err)
	}
	if s2.Resources[0] != s1.Resources[1] {
		t.Fatalf("hammer not reused: %v vs %v", s2.Resources, s1.Resources)
	}
	hammer, _ := e.Pool(s1.Resources[1])
	if hammer.Cap != 30 {
		t.Fatalf("hammer cap=%d", hammer.Cap)
	}
	st, err = e.SeasonStatus(s2.Index)
	if err != nil || !st.Ready || st.DeclaredPieces != 109 {
		t.Fatalf("season 2 status=%+v err=%v", st, err)
	}
	z1, _ := e.Zone(s2.Index, 1)
	glass, _ := e.Pool(z1.Requirements[0].Resource)
	if glass.Symbol != "GLS" || z1.Requirements[0].Amount != 2 {
		t.Fatalf("zone 1=%+v", z1)
	}
}

func TestApply_ReuseNeedsPreviousSeason(t *testing.T) {
	e := newEngine(t)
	_, err := Apply(context.Background(), e, owner, mustLoad(t, "season2.yaml"), ApplyOptions{})
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if e.CurrentSeason() != 0 {
		t.Fatalf("season opened despite unresolved plan")
	}
}

func TestApply_NewSymbolCollidesWithReusedID(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	s1, err := Apply(ctx, e, owner, mustLoad(t, "season1.yaml"), ApplyOptions{})
	if err != nil {
		t.Fatalf("apply season 1: %v", err)
	}
	raw := "existing: [{id: '" + s1.Resources[1].Hex() + "', cap: 30}]\n" +
		"new: [{name: heavy hammer, symbol: HMR, cap: 10}]\n" +
		"zones: [{zone: 0, pieces: 1, requires: [{item: HMR, amount: 1}]}]\n"
	p, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Apply(ctx, e, owner, p, ApplyOptions{}); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if e.CurrentSeason() != s1.Index {
		t.Fatalf("season opened despite symbol collision")
	}
}

func TestApply_NonAdmin(t *testing.T) {
	e := newEngine(t)
	_, err := Apply(context.Background(), e, common.HexToAddress("0x0b"), mustLoad(t, "season1.yaml"), ApplyOptions{})
	if !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestConfigure_ReportsZone(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	p := mustLoad(t, "season1.yaml")
	s, err := Apply(ctx, e, owner, p, ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	p.Zones = append(p.Zones, Zone{Zone: 25, Pieces: 1})
	err = Configure(ctx, e, owner, p, s, ApplyOptions{Parallel: 1})
	if !errors.Is(err, protocol.ErrInvalidZone) || !strings.Contains(err.Error(), "zone 25") {
		t.Fatalf("expected invalid zone 25, got %v", err)
	}
}
