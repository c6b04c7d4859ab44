// Package zone configures per-zone piece counts and material requirements,
// and decides when a season's zones are ready for minting.
package zone

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/feature/access"
	"duzzle.ai/internal/feature/season"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

type Config struct {
	Season     int
	Zone       int
	PieceCount uint64
	Resources  []common.Address
	Amounts    []uint64
}

// CheckIndex rejects zone indexes outside [0, zoneCount).
func CheckIndex(tx *ledger.Txn, index int) error {
	n := tx.Meta().ZoneCount
	if index < 0 || index >= n {
		return protocol.Errorf(protocol.CodeInvalidZone, "zone %d out of range [0,%d)", index, n)
	}
	return nil
}

// Set replaces the configuration of one zone of the current season. It does
// not look at other zones; the season-wide sum is checked by Reconcile.
func Set(tx *ledger.Txn, caller common.Address, cfg Config) error {
	if err := access.Require(tx, access.AdminRole, caller); err != nil {
		return err
	}
	if len(cfg.Resources) != len(cfg.Amounts) {
		return protocol.Errorf(protocol.CodeValidation,
			"required items (%d) and amounts (%d) differ in length", len(cfg.Resources), len(cfg.Amounts))
	}
	if err := CheckIndex(tx, cfg.Zone); err != nil {
		return err
	}
	s, err := season.Current(tx, cfg.Season)
	if err != nil {
		return err
	}
	if cfg.PieceCount > ledger.MaxAmount {
		return protocol.Errorf(protocol.CodeValidation, "piece count %d out of range", cfg.PieceCount)
	}
	reqs := make([]ledger.Requirement, len(cfg.Resources))
	for i, id := range cfg.Resources {
		if _, ok := tx.Pool(id); !ok {
			return protocol.Errorf(protocol.CodeNotFound, "resource %s", id.Hex())
		}
		if !s.Uses(id) {
			return protocol.Errorf(protocol.CodeValidation, "resource %s is not a material of season %d", id.Hex(), s.Index)
		}
		if cfg.Amounts[i] > ledger.MaxAmount {
			return protocol.Errorf(protocol.CodeValidation, "amount %d out of range", cfg.Amounts[i])
		}
		reqs[i] = ledger.Requirement{Resource: id, Amount: cfg.Amounts[i]}
	}

	z, _ := tx.Zone(s.Index, cfg.Zone)
	z.Season = s.Index
	z.Index = cfg.Zone
	z.PieceCount = cfg.PieceCount
	z.Requirements = reqs
	tx.PutZone(z)
	tx.Emit(ledger.KindSetZoneData, s.Index, ledger.SetZoneData{
		Season:          s.Index,
		ZoneID:          cfg.Zone,
		PieceCount:      cfg.PieceCount,
		RequiredItems:   slices.Clone(cfg.Resources),
		RequiredAmounts: slices.Clone(cfg.Amounts),
	})
	return nil
}

func Get(tx *ledger.Txn, seasonIndex, index int) (ledger.Zone, error) {
	if err := CheckIndex(tx, index); err != nil {
		return ledger.Zone{}, err
	}
	z, ok := tx.Zone(seasonIndex, index)
	if !ok {
		return ledger.Zone{}, protocol.Errorf(protocol.CodeNotFound, "zone %d of season %d is not configured", index, seasonIndex)
	}
	return z, nil
}

// Status summarises how far a season's zones are configured.
type Status struct {
	Season           int
	ZoneCount        int
	Configured       int
	Missing          []int
	ConfiguredPieces uint64
	DeclaredPieces   uint64
	MintedPieces     uint64
	Ready            bool
}

// Reconcile computes Status. A season is ready once every zone is configured
// and the zones' piece counts sum to the declared total.
func Reconcile(tx *ledger.Txn, seasonIndex int) (Status, error) {
	s, err := season.Get(tx, seasonIndex)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Season:         s.Index,
		ZoneCount:      tx.Meta().ZoneCount,
		DeclaredPieces: s.TotalPieces,
	}
	overflow := false
	for i := 0; i < st.ZoneCount; i++ {
		z, ok := tx.Zone(s.Index, i)
		if !ok {
			st.Missing = append(st.Missing, i)
			continue
		}
		st.Configured++
		sum := st.ConfiguredPieces + z.PieceCount
		if sum < st.ConfiguredPieces {
			overflow = true
		}
		st.ConfiguredPieces = sum
		st.MintedPieces += z.Minted
	}
	st.Ready = !overflow && len(st.Missing) == 0 && st.ConfiguredPieces == st.DeclaredPieces
	return st, nil
}

// RequireReady is the gate in front of minting.
func RequireReady(tx *ledger.Txn, seasonIndex int) error {
	st, err := Reconcile(tx, seasonIndex)
	if err != nil {
		return err
	}
	if st.Ready {
		return nil
	}
	if len(st.Missing) > 0 {
		return protocol.Errorf(protocol.CodeSeasonNotReady,
			"season %d: %d of %d zones configured (missing %v)", st.Season, st.Configured, st.ZoneCount, st.Missing)
	}
	return protocol.Errorf(protocol.CodeSeasonNotReady,
		"season %d: zone piece counts sum to %d, declared total is %d", st.Season, st.ConfiguredPieces, st.DeclaredPieces)
}
