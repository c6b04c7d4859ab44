// Package plan turns a season plan file into the OpenSeason call and the
// per-zone SetZoneData calls that follow it.
//
// A plan names materials by symbol. Reused materials are looked up among the
// current season's pools (or given by id); zone requirements may name any
// material of the new season by symbol, or by id.
package plan

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"duzzle.ai/internal/feature/season"
	"duzzle.ai/internal/feature/zone"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

//go:embed season_plan.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("season_plan.schema.json", schemaJSON)

type Reuse struct {
	ID     string `yaml:"id,omitempty"`
	Symbol string `yaml:"symbol,omitempty"`
	Cap    uint64 `yaml:"cap"`
}

type Material struct {
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
	Cap    uint64 `yaml:"cap"`
}

type Requirement struct {
	Item   string `yaml:"item"`
	Amount uint64 `yaml:"amount"`
}

type Zone struct {
	Zone     int           `yaml:"zone"`
	Pieces   uint64        `yaml:"pieces"`
	Requires []Requirement `yaml:"requires,omitempty"`
}

type Plan struct {
	Existing    []Reuse    `yaml:"existing,omitempty"`
	New         []Material `yaml:"new,omitempty"`
	TotalPieces uint64     `yaml:"total_pieces,omitempty"`
	Zones       []Zone     `yaml:"zones"`
}

func Load(path string) (Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, err
	}
	return Parse(b)
}

// Parse validates raw YAML against the plan schema, then decodes it.
func Parse(raw []byte) (Plan, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Plan{}, protocol.Wrap(protocol.CodeValidation, "plan yaml", err)
	}
	// Round-trip through JSON so the validator sees JSON-shaped values.
	jb, err := json.Marshal(doc)
	if err != nil {
		return Plan{}, protocol.Wrap(protocol.CodeValidation, "plan yaml", err)
	}
	var jdoc any
	if err := json.Unmarshal(jb, &jdoc); err != nil {
		return Plan{}, protocol.Wrap(protocol.CodeValidation, "plan yaml", err)
	}
	if err := schema.Validate(jdoc); err != nil {
		return Plan{}, protocol.Wrap(protocol.CodeValidation, "plan schema", err)
	}

	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Plan{}, protocol.Wrap(protocol.CodeValidation, "plan yaml", err)
	}
	if err := p.check(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Total is the declared piece total: total_pieces when set, else the zones' sum.
func (p Plan) Total() uint64 {
	if p.TotalPieces != 0 {
		return p.TotalPieces
	}
	var n uint64
	for _, z := range p.Zones {
		n += z.Pieces
	}
	return n
}

func (p Plan) check() error {
	seen := make(map[int]bool, len(p.Zones))
	for _, z := range p.Zones {
		if seen[z.Zone] {
			return protocol.Errorf(protocol.CodeValidation, "zone %d listed twice", z.Zone)
		}
		seen[z.Zone] = true
	}
	known := map[string]bool{}
	for _, r := range p.Existing {
		if r.Symbol != "" {
			known[r.Symbol] = true
		}
	}
	for _, m := range p.New {
		if known[m.Symbol] {
			return protocol.Errorf(protocol.CodeValidation, "material symbol %q listed twice", m.Symbol)
		}
		known[m.Symbol] = true
	}
	for _, z := range p.Zones {
		for _, r := range z.Requires {
			if !known[r.Item] && !common.IsHexAddress(r.Item) {
				return protocol.Errorf(protocol.CodeValidation, "zone %d requires unknown item %q", z.Zone, r.Item)
			}
		}
	}
	return nil
}

// Ledger is the part of the engine a plan drives.
type Ledger interface {
	CurrentSeason() int
	Season(index int) (ledger.Season, error)
	Pool(id common.Address) (ledger.Pool, error)
	OpenSeason(ctx context.Context, caller common.Address, req season.Request) (ledger.Season, *ledger.Receipt, error)
	SetZoneData(ctx context.Context, caller common.Address, cfg zone.Config) (*ledger.Receipt, error)
}

// Request resolves reused materials against the ledger's current season.
func (p Plan) Request(l Ledger) (season.Request, error) {
	req := season.Request{TotalPieces: p.Total()}
	var bySymbol map[string]common.Address
	for _, r := range p.Existing {
		if r.ID != "" {
			req.Existing = append(req.Existing, common.HexToAddress(r.ID))
			req.SupplyCaps = append(req.SupplyCaps, r.Cap)
			continue
		}
		if bySymbol == nil {
			var err error
			if bySymbol, err = currentSymbols(l); err != nil {
				return season.Request{}, err
			}
		}
		id, ok := bySymbol[r.Symbol]
		if !ok {
			return season.Request{}, protocol.Errorf(protocol.CodeNotFound, "no material %q in season %d", r.Symbol, l.CurrentSeason())
		}
		req.Existing = append(req.Existing, id)
		req.SupplyCaps = append(req.SupplyCaps, r.Cap)
	}
	taken := make(map[string]bool, len(req.Existing))
	for _, id := range req.Existing {
		pool, err := l.Pool(id)
		if err != nil {
			return season.Request{}, err
		}
		taken[pool.Symbol] = true
	}
	for _, m := range p.New {
		if taken[m.Symbol] {
			return season.Request{}, protocol.Errorf(protocol.CodeValidation, "new material %q reuses the symbol of an existing material", m.Symbol)
		}
		req.NewNames = append(req.NewNames, m.Name)
		req.NewSymbols = append(req.NewSymbols, m.Symbol)
		req.SupplyCaps = append(req.SupplyCaps, m.Cap)
	}
	return req, nil
}

func currentSymbols(l Ledger) (map[string]common.Address, error) {
	cur := l.CurrentSeason()
	if cur == 0 {
		return nil, protocol.Errorf(protocol.CodeNotFound, "no season to reuse materials from")
	}
	s, err := l.Season(cur)
	if err != nil {
		return nil, err
	}
	return symbols(l, s)
}

func symbols(l Ledger, s ledger.Season) (map[string]common.Address, error) {
	out := make(map[string]common.Address, len(s.Resources))
	for _, id := range s.Resources {
		p, err := l.Pool(id)
		if err != nil {
			return nil, err
		}
		if prev, dup := out[p.Symbol]; dup && prev != id {
			return nil, protocol.Errorf(protocol.CodeValidation, "season %d has two materials with symbol %q", s.Index, p.Symbol)
		}
		out[p.Symbol] = id
	}
	return out, nil
}

// ZoneConfigs resolves every zone's requirements against the opened season.
func (p Plan) ZoneConfigs(l Ledger, s ledger.Season) ([]zone.Config, error) {
	bySymbol, err := symbols(l, s)
	if err != nil {
		return nil, err
	}
	out := make([]zone.Config, 0, len(p.Zones))
	for _, z := range p.Zones {
		cfg := zone.Config{Season: s.Index, Zone: z.Zone, PieceCount: z.Pieces}
		for _, r := range z.Requires {
			id, ok := bySymbol[r.Item]
			if !ok {
				if !common.IsHexAddress(r.Item) {
					return nil, protocol.Errorf(protocol.CodeNotFound, "zone %d: no material %q in season %d", z.Zone, r.Item, s.Index)
				}
				id = common.HexToAddress(r.Item)
			}
			cfg.Resources = append(cfg.Resources, id)
			cfg.Amounts = append(cfg.Amounts, r.Amount)
		}
		out = append(out, cfg)
	}
	return out, nil
}

type ApplyOptions struct {
	// Parallel bounds in-flight zone calls; <= 0 dispatches all at once.
	Parallel int
	// Progress is called after each zone call succeeds.
	Progress func(done, total int)
}

// Apply opens the season, then configures every zone concurrently. Zone
// calls are independent, so a failure leaves the season open with some zones
// unconfigured; rerunning Configure with the same plan finishes the job.
func Apply(ctx context.Context, l Ledger, caller common.Address, p Plan, opts ApplyOptions) (ledger.Season, error) {
	req, err := p.Request(l)
	if err != nil {
		return ledger.Season{}, err
	}
	s, _, err := l.OpenSeason(ctx, caller, req)
	if err != nil {
		return ledger.Season{}, err
	}
	if err := Configure(ctx, l, caller, p, s, opts); err != nil {
		return s, err
	}
	return s, nil
}

// Configure dispatches the plan's zone configuration for an already open
// season.
func Configure(ctx context.Context, l Ledger, caller common.Address, p Plan, s ledger.Season, opts ApplyOptions) error {
	cfgs, err := p.ZoneConfigs(l, s)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}
	var done atomic.Int64
	for _, cfg := range cfgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := l.SetZoneData(gctx, caller, cfg); err != nil {
				return fmt.Errorf("zone %d: %w", cfg.Zone, err)
			}
			n := done.Add(1)
			if opts.Progress != nil {
				opts.Progress(int(n), len(cfgs))
			}
			return nil
		})
	}
	return g.Wait()
}

// Describe renders a one-line summary used by the CLI.
func (p Plan) Describe() string {
	var syms []string
	for _, r := range p.Existing {
		if r.Symbol != "" {
			syms = append(syms, r.Symbol+"*")
		} else {
			syms = append(syms, r.ID+"*")
		}
	}
	for _, m := range p.New {
		syms = append(syms, m.Symbol)
	}
	return fmt.Sprintf("materials=[%s] zones=%d pieces=%d", strings.Join(syms, " "), len(p.Zones), p.Total())
}
