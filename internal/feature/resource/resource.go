// Package resource is the fungible material ledger: pool creation, capped
// minting, transfers and the all-or-nothing debit used by piece mints.
package resource

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

// Factory creates pools. Identifiers are derived from the factory address and
// a never-reset nonce, so they are unique for the life of the ledger.
type Factory struct {
	Deployer common.Address
}

func (f Factory) NextID(tx *ledger.Txn) common.Address {
	return crypto.CreateAddress(f.Deployer, tx.Meta().Nonce)
}

// Create opens an empty pool with the given cap.
func (f Factory) Create(tx *ledger.Txn, name, symbol string, supplyCap uint64, season int) (common.Address, error) {
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if name == "" || symbol == "" {
		return common.Address{}, protocol.Errorf(protocol.CodeValidation, "resource name and symbol are required")
	}
	if supplyCap > ledger.MaxAmount {
		return common.Address{}, protocol.Errorf(protocol.CodeValidation, "supply cap %d out of range", supplyCap)
	}
	id := f.NextID(tx)
	if _, exists := tx.Pool(id); exists {
		return common.Address{}, protocol.Errorf(protocol.CodeInternal, "resource id %s already allocated", id.Hex())
	}
	tx.Meta().Nonce++
	tx.PutPool(ledger.Pool{
		ID:     id,
		Name:   name,
		Symbol: symbol,
		Cap:    supplyCap,
		Season: season,
	})
	tx.Emit(ledger.KindResourceCreated, season, ledger.ResourceCreated{Resource: id, Name: name, Symbol: symbol, Cap: supplyCap})
	return id, nil
}

func Lookup(tx *ledger.Txn, id common.Address) (ledger.Pool, error) {
	p, ok := tx.Pool(id)
	if !ok {
		return ledger.Pool{}, protocol.Errorf(protocol.CodeNotFound, "resource %s", id.Hex())
	}
	return p, nil
}

// SetCap replaces a pool's cap. It may not drop below what was already minted.
func SetCap(tx *ledger.Txn, id common.Address, supplyCap uint64, season int) error {
	p, err := Lookup(tx, id)
	if err != nil {
		return err
	}
	if supplyCap > ledger.MaxAmount {
		return protocol.Errorf(protocol.CodeValidation, "supply cap %d out of range", supplyCap)
	}
	if supplyCap < p.Minted {
		return protocol.Errorf(protocol.CodeSupplyCapExceeded, "%s cap %d below minted %d", p.Symbol, supplyCap, p.Minted)
	}
	if p.Cap == supplyCap {
		return nil
	}
	p.Cap = supplyCap
	tx.PutPool(p)
	tx.Emit(ledger.KindResourceCapSet, season, ledger.ResourceCapSet{Resource: id, Cap: supplyCap})
	return nil
}

// Mint credits amount to an account, failing once the cap would be exceeded.
func Mint(tx *ledger.Txn, id, to common.Address, amount uint64) error {
	p, err := Lookup(tx, id)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return protocol.Errorf(protocol.CodeValidation, "mint to the zero address")
	}
	if amount > p.Remaining() {
		return protocol.Errorf(protocol.CodeSupplyCapExceeded, "%s: mint %d exceeds remaining %d of cap %d", p.Symbol, amount, p.Remaining(), p.Cap)
	}
	p.Minted += amount
	tx.PutPool(p)
	tx.SetBalance(id, to, tx.Balance(id, to)+amount)
	tx.Emit(ledger.KindResourceTransfer, p.Season, ledger.ResourceTransfer{Resource: id, To: to, Amount: amount})
	return nil
}

func Transfer(tx *ledger.Txn, id, from, to common.Address, amount uint64) error {
	p, err := Lookup(tx, id)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return protocol.Errorf(protocol.CodeValidation, "transfer to the zero address")
	}
	have := tx.Balance(id, from)
	if have < amount {
		return protocol.Errorf(protocol.CodeInsufficientResource, "%s: balance %d < %d", p.Symbol, have, amount)
	}
	tx.SetBalance(id, from, have-amount)
	tx.SetBalance(id, to, tx.Balance(id, to)+amount)
	tx.Emit(ledger.KindResourceTransfer, p.Season, ledger.ResourceTransfer{Resource: id, From: from, To: to, Amount: amount})
	return nil
}

// Shortfall describes one requirement the account cannot cover.
type Shortfall struct {
	Resource common.Address
	Symbol   string
	Need     uint64
	Have     uint64
}

// Check reports every requirement the account cannot cover, summing repeated
// resources. It writes nothing.
func Check(tx *ledger.Txn, account common.Address, reqs []ledger.Requirement) ([]Shortfall, error) {
	need, order, err := totals(reqs)
	if err != nil {
		return nil, err
	}
	var out []Shortfall
	for _, id := range order {
		p, err := Lookup(tx, id)
		if err != nil {
			return nil, err
		}
		if have := tx.Balance(id, account); have < need[id] {
			out = append(out, Shortfall{Resource: id, Symbol: p.Symbol, Need: need[id], Have: have})
		}
	}
	return out, nil
}

// Consume burns every requirement from account, or nothing if any single
// one is short.
func Consume(tx *ledger.Txn, account common.Address, reqs []ledger.Requirement, season int) error {
	short, err := Check(tx, account, reqs)
	if err != nil {
		return err
	}
	if len(short) > 0 {
		s := short[0]
		return protocol.Errorf(protocol.CodeInsufficientResource, "%s: balance %d < required %d", s.Symbol, s.Have, s.Need)
	}
	need, order, _ := totals(reqs)
	for _, id := range order {
		amount := need[id]
		if amount == 0 {
			continue
		}
		p, _ := tx.Pool(id)
		p.Burned += amount
		tx.PutPool(p)
		tx.SetBalance(id, account, tx.Balance(id, account)-amount)
		tx.Emit(ledger.KindResourceTransfer, season, ledger.ResourceTransfer{Resource: id, From: account, Amount: amount})
	}
	return nil
}

func totals(reqs []ledger.Requirement) (map[common.Address]uint64, []common.Address, error) {
	need := make(map[common.Address]uint64, len(reqs))
	order := make([]common.Address, 0, len(reqs))
	for _, r := range reqs {
		prev, seen := need[r.Resource]
		if !seen {
			order = append(order, r.Resource)
		}
		sum := prev + r.Amount
		if sum < prev || sum > ledger.MaxAmount {
			return nil, nil, protocol.Errorf(protocol.CodeValidation, "requirement total for %s overflows", r.Resource.Hex())
		}
		need[r.Resource] = sum
	}
	return need, order, nil
}
