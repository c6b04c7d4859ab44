package ledger

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Kind string

const (
	KindInitialized       Kind = "Initialized"
	KindStartSeason       Kind = "StartSeason"
	KindSetZoneData       Kind = "SetZoneData"
	KindPuzzlePieceMinted Kind = "PuzzlePieceMinted"
	KindMint              Kind = "Mint"
	KindTransfer          Kind = "Transfer"
	KindApproval          Kind = "Approval"
	KindResourceCreated   Kind = "ResourceCreated"
	KindResourceCapSet    Kind = "ResourceCapSet"
	KindResourceTransfer  Kind = "ResourceTransfer"
	KindRoleGranted       Kind = "RoleGranted"
	KindRoleRevoked       Kind = "RoleRevoked"
)

var signatures = map[Kind]string{
	KindInitialized:       "Initialized(address,address,address)",
	KindStartSeason:       "StartSeason(address[])",
	KindSetZoneData:       "SetZoneData(uint256,uint256,address[],uint256[])",
	KindPuzzlePieceMinted: "PuzzlePieceMinted(uint256,uint256,address,uint256)",
	KindMint:              "Mint(address,uint256)",
	KindTransfer:          "Transfer(address,address,uint256)",
	KindApproval:          "Approval(address,address,uint256)",
	KindResourceCreated:   "ResourceCreated(address,string,string,uint256)",
	KindResourceCapSet:    "ResourceCapSet(address,uint256)",
	KindResourceTransfer:  "ResourceTransfer(address,address,address,uint256)",
	KindRoleGranted:       "RoleGranted(bytes32,address,address)",
	KindRoleRevoked:       "RoleRevoked(bytes32,address,address)",
}

var topics = func() map[Kind]common.Hash {
	m := make(map[Kind]common.Hash, len(signatures))
	for k, sig := range signatures {
		m[k] = crypto.Keccak256Hash([]byte(sig))
	}
	return m
}()

// Topic is the keccak256 of the event signature.
func (k Kind) Topic() common.Hash { return topics[k] }

func (k Kind) Signature() string { return signatures[k] }

func KindOfTopic(topic common.Hash) (Kind, bool) {
	for k, h := range topics {
		if h == topic {
			return k, true
		}
	}
	return "", false
}

type Event struct {
	Seq    uint64          `json:"seq"`
	Kind   Kind            `json:"kind"`
	Topic  common.Hash     `json:"topic"`
	Season int             `json:"season,omitempty"`
	Body   json.RawMessage `json:"body"`
}

func (e Event) Decode(v any) error { return json.Unmarshal(e.Body, v) }

// Receipt is what a committed operation emitted, in order.
type Receipt struct {
	Events []Event
}

func (r *Receipt) Find(kind Kind) (Event, bool) {
	if r == nil {
		return Event{}, false
	}
	for _, e := range r.Events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func (r *Receipt) FindAll(kind Kind) []Event {
	if r == nil {
		return nil
	}
	var out []Event
	for _, e := range r.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type Initialized struct {
	Owner      common.Address `json:"owner"`
	Self       common.Address `json:"self"`
	DalToken   common.Address `json:"dal_token"`
	Collection Collection     `json:"collection"`
	ZoneCount  int            `json:"zone_count"`
}

type StartSeason struct {
	Season      int              `json:"season"`
	Items       []common.Address `json:"materialItemTokens"`
	Existing    int              `json:"existing"`
	TotalPieces uint64           `json:"totalPieceCount"`
}

type SetZoneData struct {
	Season          int              `json:"season"`
	ZoneID          int              `json:"zoneId"`
	PieceCount      uint64           `json:"pieceCountOfZones"`
	RequiredItems   []common.Address `json:"requiredItemsForMinting"`
	RequiredAmounts []uint64         `json:"requiredItemAmount"`
}

type PuzzlePieceMinted struct {
	Season  int            `json:"season"`
	ZoneID  int            `json:"zoneId"`
	To      common.Address `json:"to"`
	TokenID uint64         `json:"tokenId"`
}

type Mint struct {
	To      common.Address `json:"to"`
	TokenID uint64         `json:"tokenId"`
}

type Transfer struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	TokenID uint64         `json:"tokenId"`
}

type Approval struct {
	Owner    common.Address `json:"owner"`
	Approved common.Address `json:"approved"`
	TokenID  uint64         `json:"tokenId"`
}

type ResourceCreated struct {
	Resource common.Address `json:"resource"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Cap      uint64         `json:"cap"`
}

type ResourceCapSet struct {
	Resource common.Address `json:"resource"`
	Cap      uint64         `json:"cap"`
}

type ResourceTransfer struct {
	Resource common.Address `json:"resource"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Amount   uint64         `json:"amount"`
}

type RoleChange struct {
	Role    common.Hash    `json:"role"`
	Account common.Address `json:"account"`
	Sender  common.Address `json:"sender"`
}
