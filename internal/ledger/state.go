// Package ledger holds the authoritative game state and the transaction
// overlay every operation runs in.
package ledger

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxAmount bounds every stored quantity. The store keeps them as signed
// 64-bit integers.
const MaxAmount = uint64(math.MaxInt64)

type Collection struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	BaseURI string `json:"base_uri"`
}

// Meta is the singleton row: identities, counters and the season cursor.
type Meta struct {
	Initialized   bool           `json:"initialized"`
	Self          common.Address `json:"self"`
	Owner         common.Address `json:"owner"`
	DalToken      common.Address `json:"dal_token"`
	Collection    Collection     `json:"collection"`
	ZoneCount     int            `json:"zone_count"`
	Nonce         uint64         `json:"nonce"`
	NextPiece     uint64         `json:"next_piece"`
	NextEvent     uint64         `json:"next_event"`
	CurrentSeason int            `json:"current_season"`
}

// Pool is one fungible resource ledger. Minted only grows; Burned counts
// amounts consumed by piece mints.
type Pool struct {
	ID     common.Address `json:"id"`
	Name   string         `json:"name"`
	Symbol string         `json:"symbol"`
	Cap    uint64         `json:"cap"`
	Minted uint64         `json:"minted"`
	Burned uint64         `json:"burned"`
	Season int            `json:"season"`
}

func (p Pool) Supply() uint64 { return p.Minted - p.Burned }

// Remaining is how much more can ever be minted.
func (p Pool) Remaining() uint64 {
	if p.Minted >= p.Cap {
		return 0
	}
	return p.Cap - p.Minted
}

type Season struct {
	Index       int              `json:"index"`
	Resources   []common.Address `json:"resources"`
	Existing    int              `json:"existing"`
	TotalPieces uint64           `json:"total_pieces"`
	OpenedAt    time.Time        `json:"opened_at"`
}

// Reused returns the prefix of Resources carried over from earlier seasons.
func (s Season) Reused() []common.Address { return s.Resources[:s.Existing] }

// Created returns the resources minted into existence by this season.
func (s Season) Created() []common.Address { return s.Resources[s.Existing:] }

func (s Season) Uses(id common.Address) bool { return slices.Contains(s.Resources, id) }

type Requirement struct {
	Resource common.Address `json:"resource"`
	Amount   uint64         `json:"amount"`
}

type Zone struct {
	Season       int           `json:"season"`
	Index        int           `json:"index"`
	PieceCount   uint64        `json:"piece_count"`
	Requirements []Requirement `json:"requirements"`
	Minted       uint64        `json:"minted"`
}

func (z Zone) Resources() []common.Address {
	out := make([]common.Address, len(z.Requirements))
	for i, r := range z.Requirements {
		out[i] = r.Resource
	}
	return out
}

func (z Zone) Amounts() []uint64 {
	out := make([]uint64, len(z.Requirements))
	for i, r := range z.Requirements {
		out[i] = r.Amount
	}
	return out
}

func (z Zone) Remaining() uint64 {
	if z.Minted >= z.PieceCount {
		return 0
	}
	return z.PieceCount - z.Minted
}

type Piece struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	Approved   common.Address `json:"approved"`
	Season     int            `json:"season"`
	Zone       int            `json:"zone"`
	ContentRef string         `json:"content_ref"`
}

type BalanceKey struct {
	Resource common.Address
	Account  common.Address
}

type ZoneKey struct {
	Season int
	Zone   int
}

type RoleKey struct {
	Role    common.Hash
	Account common.Address
}

type State struct {
	Meta          Meta
	Pools         map[common.Address]Pool
	Balances      map[BalanceKey]uint64
	Seasons       map[int]Season
	Zones         map[ZoneKey]Zone
	Pieces        map[uint64]Piece
	PieceBalances map[common.Address]uint64
	Roles         map[RoleKey]struct{}
}

func NewState() *State {
	return &State{
		Pools:         map[common.Address]Pool{},
		Balances:      map[BalanceKey]uint64{},
		Seasons:       map[int]Season{},
		Zones:         map[ZoneKey]Zone{},
		Pieces:        map[uint64]Piece{},
		PieceBalances: map[common.Address]uint64{},
		Roles:         map[RoleKey]struct{}{},
	}
}

// Apply folds committed changes into s. Events are not kept in memory.
func (s *State) Apply(c *Changes) {
	s.Meta = c.Meta
	for _, p := range c.Pools {
		s.Pools[p.ID] = p
	}
	for _, b := range c.Balances {
		k := BalanceKey{Resource: b.Resource, Account: b.Account}
		if b.Amount == 0 {
			delete(s.Balances, k)
			continue
		}
		s.Balances[k] = b.Amount
	}
	for _, se := range c.Seasons {
		s.Seasons[se.Index] = cloneSeason(se)
	}
	for _, z := range c.Zones {
		s.Zones[ZoneKey{Season: z.Season, Zone: z.Index}] = cloneZone(z)
	}
	for _, p := range c.Pieces {
		s.Pieces[p.ID] = p
	}
	for _, pb := range c.PieceBalances {
		if pb.Count == 0 {
			delete(s.PieceBalances, pb.Account)
			continue
		}
		s.PieceBalances[pb.Account] = pb.Count
	}
	for _, r := range c.Roles {
		k := RoleKey{Role: r.Role, Account: r.Account}
		if r.Granted {
			s.Roles[k] = struct{}{}
		} else {
			delete(s.Roles, k)
		}
	}
}

// Dump returns every record of s as one Changes value, sorted by key. Applying
// it to an empty State reproduces s.
func (s *State) Dump() *Changes {
	c := &Changes{Meta: s.Meta}
	for _, p := range s.Pools {
		c.Pools = append(c.Pools, p)
	}
	for k, v := range s.Balances {
		c.Balances = append(c.Balances, Balance{Resource: k.Resource, Account: k.Account, Amount: v})
	}
	for _, se := range s.Seasons {
		c.Seasons = append(c.Seasons, cloneSeason(se))
	}
	for _, z := range s.Zones {
		c.Zones = append(c.Zones, cloneZone(z))
	}
	for _, p := range s.Pieces {
		c.Pieces = append(c.Pieces, p)
	}
	for a, n := range s.PieceBalances {
		c.PieceBalances = append(c.PieceBalances, PieceBalance{Account: a, Count: n})
	}
	for k := range s.Roles {
		c.Roles = append(c.Roles, RoleGrant{Role: k.Role, Account: k.Account, Granted: true})
	}
	c.sort()
	return c
}

func (s *State) Clone() *State {
	out := NewState()
	out.Apply(s.Dump())
	return out
}

func cloneSeason(s Season) Season {
	s.Resources = slices.Clone(s.Resources)
	return s
}

func cloneZone(z Zone) Zone {
	z.Requirements = slices.Clone(z.Requirements)
	return z
}

func sortAddrs(a, b common.Address) bool { return a.Cmp(b) < 0 }

func (c *Changes) sort() {
	sort.Slice(c.Pools, func(i, j int) bool { return sortAddrs(c.Pools[i].ID, c.Pools[j].ID) })
	sort.Slice(c.Balances, func(i, j int) bool {
		if c.Balances[i].Resource != c.Balances[j].Resource {
			return sortAddrs(c.Balances[i].Resource, c.Balances[j].Resource)
		}
		return sortAddrs(c.Balances[i].Account, c.Balances[j].Account)
	})
	sort.Slice(c.Seasons, func(i, j int) bool { return c.Seasons[i].Index < c.Seasons[j].Index })
	sort.Slice(c.Zones, func(i, j int) bool {
		if c.Zones[i].Season != c.Zones[j].Season {
			return c.Zones[i].Season < c.Zones[j].Season
		}
		return c.Zones[i].Index < c.Zones[j].Index
	})
	sort.Slice(c.Pieces, func(i, j int) bool { return c.Pieces[i].ID < c.Pieces[j].ID })
	sort.Slice(c.PieceBalances, func(i, j int) bool {
		return sortAddrs(c.PieceBalances[i].Account, c.PieceBalances[j].Account)
	})
	sort.Slice(c.Roles, func(i, j int) bool {
		if c.Roles[i].Role != c.Roles[j].Role {
			return c.Roles[i].Role.Cmp(c.Roles[j].Role) < 0
		}
		return sortAddrs(c.Roles[i].Account, c.Roles[j].Account)
	})
}
