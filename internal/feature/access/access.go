// Package access implements the role checks guarding administrative
// operations and the collectible issuance capability.
package access

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/protocol"
)

var (
	AdminRole  = crypto.Keccak256Hash([]byte("DEFAULT_ADMIN"))
	MinterRole = crypto.Keccak256Hash([]byte("MINTER"))
)

func RoleName(role common.Hash) string {
	switch role {
	case AdminRole:
		return "DEFAULT_ADMIN"
	case MinterRole:
		return "MINTER"
	default:
		return role.Hex()
	}
}

func ParseRole(name string) (common.Hash, bool) {
	switch name {
	case "DEFAULT_ADMIN", "admin":
		return AdminRole, true
	case "MINTER", "minter":
		return MinterRole, true
	}
	return common.Hash{}, false
}

// Require rejects callers lacking role.
func Require(tx *ledger.Txn, role common.Hash, caller common.Address) error {
	if tx.HasRole(role, caller) {
		return nil
	}
	code := protocol.CodeUnauthorized
	if role == MinterRole {
		code = protocol.CodeUnauthorizedMinter
	}
	return protocol.Errorf(code, "AccessControlUnauthorizedAccount(%s, %s)", caller.Hex(), RoleName(role))
}

// Bootstrap grants role without a sender check. Only initialization uses it.
func Bootstrap(tx *ledger.Txn, role common.Hash, account common.Address) {
	grant(tx, role, account, common.Address{})
}

// Grant gives role to account. MINTER is never granted here: the mint gate
// receives it once at initialization.
func Grant(tx *ledger.Txn, sender common.Address, role common.Hash, account common.Address) error {
	if err := Require(tx, AdminRole, sender); err != nil {
		return err
	}
	if err := adminManaged(role); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return protocol.Errorf(protocol.CodeValidation, "cannot grant %s to the zero address", RoleName(role))
	}
	grant(tx, role, account, sender)
	return nil
}

func Revoke(tx *ledger.Txn, sender common.Address, role common.Hash, account common.Address) error {
	if err := Require(tx, AdminRole, sender); err != nil {
		return err
	}
	if err := adminManaged(role); err != nil {
		return err
	}
	revoke(tx, role, account, sender)
	return nil
}

// TransferAdmin moves ownership and the administrative role from sender to
// next. Only the owner may call it.
func TransferAdmin(tx *ledger.Txn, sender, next common.Address) error {
	if err := Require(tx, AdminRole, sender); err != nil {
		return err
	}
	if sender != tx.Meta().Owner {
		return protocol.Errorf(protocol.CodeUnauthorized, "OwnableUnauthorizedAccount(%s)", sender.Hex())
	}
	if err := Grant(tx, sender, AdminRole, next); err != nil {
		return err
	}
	if next != sender {
		revoke(tx, AdminRole, sender, sender)
	}
	tx.Meta().Owner = next
	return nil
}

func adminManaged(role common.Hash) error {
	if role == MinterRole {
		return protocol.Errorf(protocol.CodeValidation, "%s is held only by the mint gate", RoleName(role))
	}
	return nil
}

func grant(tx *ledger.Txn, role common.Hash, account, sender common.Address) {
	if tx.HasRole(role, account) {
		return
	}
	tx.SetRole(role, account, true)
	tx.Emit(ledger.KindRoleGranted, 0, ledger.RoleChange{Role: role, Account: account, Sender: sender})
}

func revoke(tx *ledger.Txn, role common.Hash, account, sender common.Address) {
	if !tx.HasRole(role, account) {
		return
	}
	tx.SetRole(role, account, false)
	tx.Emit(ledger.KindRoleRevoked, 0, ledger.RoleChange{Role: role, Account: account, Sender: sender})
}
