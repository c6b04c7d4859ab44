package ledger

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

type Balance struct {
	Resource common.Address `json:"resource"`
	Account  common.Address `json:"account"`
	Amount   uint64         `json:"amount"`
}

type PieceBalance struct {
	Account common.Address `json:"account"`
	Count   uint64         `json:"count"`
}

type RoleGrant struct {
	Role    common.Hash    `json:"role"`
	Account common.Address `json:"account"`
	Granted bool           `json:"granted"`
}

// Changes is everything one operation wrote. It is committed to the store as
// a single transaction and only then applied to memory.
type Changes struct {
	Meta          Meta
	Pools         []Pool
	Balances      []Balance
	Seasons       []Season
	Zones         []Zone
	Pieces        []Piece
	PieceBalances []PieceBalance
	Roles         []RoleGrant
	Events        []Event
}

// Txn layers pending writes over a State. Reads see the pending writes;
// the State is untouched until the Changes are applied. Dropping a Txn
// discards everything it wrote.
type Txn struct {
	base *State
	meta Meta

	pools         map[common.Address]Pool
	balances      map[BalanceKey]uint64
	seasons       map[int]Season
	zones         map[ZoneKey]Zone
	pieces        map[uint64]Piece
	pieceBalances map[common.Address]uint64
	roles         map[RoleKey]bool
	events        []Event
}

func (s *State) Begin() *Txn {
	return &Txn{base: s, meta: s.Meta}
}

// Meta returns the pending meta row for in-place updates.
func (t *Txn) Meta() *Meta { return &t.meta }

func (t *Txn) Pool(id common.Address) (Pool, bool) {
	if p, ok := t.pools[id]; ok {
		return p, true
	}
	p, ok := t.base.Pools[id]
	return p, ok
}

func (t *Txn) PutPool(p Pool) {
	if t.pools == nil {
		t.pools = map[common.Address]Pool{}
	}
	t.pools[p.ID] = p
}

func (t *Txn) Balance(resource, account common.Address) uint64 {
	k := BalanceKey{Resource: resource, Account: account}
	if v, ok := t.balances[k]; ok {
		return v
	}
	return t.base.Balances[k]
}

func (t *Txn) SetBalance(resource, account common.Address, amount uint64) {
	if t.balances == nil {
		t.balances = map[BalanceKey]uint64{}
	}
	t.balances[BalanceKey{Resource: resource, Account: account}] = amount
}

// Season returns a copy; callers never share slices with committed state.
func (t *Txn) Season(index int) (Season, bool) {
	s, ok := t.seasons[index]
	if !ok {
		s, ok = t.base.Seasons[index]
	}
	return cloneSeason(s), ok
}

func (t *Txn) PutSeason(s Season) {
	if t.seasons == nil {
		t.seasons = map[int]Season{}
	}
	t.seasons[s.Index] = cloneSeason(s)
}

func (t *Txn) Zone(season, index int) (Zone, bool) {
	k := ZoneKey{Season: season, Zone: index}
	z, ok := t.zones[k]
	if !ok {
		z, ok = t.base.Zones[k]
	}
	return cloneZone(z), ok
}

func (t *Txn) PutZone(z Zone) {
	if t.zones == nil {
		t.zones = map[ZoneKey]Zone{}
	}
	t.zones[ZoneKey{Season: z.Season, Zone: z.Index}] = cloneZone(z)
}

func (t *Txn) Piece(id uint64) (Piece, bool) {
	if p, ok := t.pieces[id]; ok {
		return p, true
	}
	p, ok := t.base.Pieces[id]
	return p, ok
}

func (t *Txn) PutPiece(p Piece) {
	if t.pieces == nil {
		t.pieces = map[uint64]Piece{}
	}
	t.pieces[p.ID] = p
}

func (t *Txn) PieceBalance(account common.Address) uint64 {
	if v, ok := t.pieceBalances[account]; ok {
		return v
	}
	return t.base.PieceBalances[account]
}

func (t *Txn) SetPieceBalance(account common.Address, count uint64) {
	if t.pieceBalances == nil {
		t.pieceBalances = map[common.Address]uint64{}
	}
	t.pieceBalances[account] = count
}

func (t *Txn) HasRole(role common.Hash, account common.Address) bool {
	k := RoleKey{Role: role, Account: account}
	if v, ok := t.roles[k]; ok {
		return v
	}
	_, ok := t.base.Roles[k]
	return ok
}

func (t *Txn) SetRole(role common.Hash, account common.Address, granted bool) {
	if t.roles == nil {
		t.roles = map[RoleKey]bool{}
	}
	t.roles[RoleKey{Role: role, Account: account}] = granted
}

// Emit records an event. Sequence numbers are assigned here so a dropped Txn
// never leaves a gap. Bodies are plain structs; one that cannot be encoded is
// a programming error.
func (t *Txn) Emit(kind Kind, season int, body any) Event {
	b, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("ledger: encode %s event: %v", kind, err))
	}
	ev := Event{
		Seq:    t.meta.NextEvent,
		Kind:   kind,
		Topic:  kind.Topic(),
		Season: season,
		Body:   b,
	}
	t.meta.NextEvent++
	t.events = append(t.events, ev)
	return ev
}

func (t *Txn) Events() []Event { return slices.Clone(t.events) }

// Changes collects the pending writes in key order.
func (t *Txn) Changes() *Changes {
	c := &Changes{Meta: t.meta, Events: slices.Clone(t.events)}
	for _, p := range t.pools {
		c.Pools = append(c.Pools, p)
	}
	for k, v := range t.balances {
		c.Balances = append(c.Balances, Balance{Resource: k.Resource, Account: k.Account, Amount: v})
	}
	for _, s := range t.seasons {
		c.Seasons = append(c.Seasons, cloneSeason(s))
	}
	for _, z := range t.zones {
		c.Zones = append(c.Zones, cloneZone(z))
	}
	for _, p := range t.pieces {
		c.Pieces = append(c.Pieces, p)
	}
	for a, n := range t.pieceBalances {
		c.PieceBalances = append(c.PieceBalances, PieceBalance{Account: a, Count: n})
	}
	for k, g := range t.roles {
		c.Roles = append(c.Roles, RoleGrant{Role: k.Role, Account: k.Account, Granted: g})
	}
	c.sort()
	return c
}
