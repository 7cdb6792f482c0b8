package syncstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Filter is a log filter over a single chain. Each slot may carry zero or
// more values; more than one value in a slot means "OR within this slot".
// Filter.Fragments expands the cross product into fully specialized
// Fragments, each with at most one value per slot.
type Filter struct {
	ChainID   uint64
	Addresses []common.Address
	Topics    [4][]common.Hash
}

// Fragment is a fully specialized log filter: at most one value per slot.
// A nil pointer in a slot means "match any value".
type Fragment struct {
	ChainID uint64
	Address *common.Address
	Topics  [4]*common.Hash
}

// Fragments expands f into the cross product of its array-valued slots.
func (f Filter) Fragments() []Fragment {
	addresses := f.Addresses
	if len(addresses) == 0 {
		addresses = []common.Address{{}}
	}

	topicOptions := make([][]*common.Hash, 4)
	for i := 0; i < 4; i++ {
		if len(f.Topics[i]) == 0 {
			topicOptions[i] = []*common.Hash{nil}
			continue
		}
		opts := make([]*common.Hash, len(f.Topics[i]))
		for j := range f.Topics[i] {
			h := f.Topics[i][j]
			opts[j] = &h
		}
		topicOptions[i] = opts
	}

	var frags []Fragment
	for _, a := range addresses {
		addr := a
		var addrPtr *common.Address
		if addr != (common.Address{}) || len(f.Addresses) > 0 {
			addrPtr = &addr
		}
		for _, t0 := range topicOptions[0] {
			for _, t1 := range topicOptions[1] {
				for _, t2 := range topicOptions[2] {
					for _, t3 := range topicOptions[3] {
						frags = append(frags, Fragment{
							ChainID: f.ChainID,
							Address: addrPtr,
							Topics:  [4]*common.Hash{t0, t1, t2, t3},
						})
					}
				}
			}
		}
	}
	return frags
}

// ID is a deterministic fingerprint of the fragment, used as the primary
// key for log_filters / log_filter_intervals rows.
func (fr Fragment) ID() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|", fr.ChainID)
	if fr.Address != nil {
		fmt.Fprintf(h, "%s|", fr.Address.Hex())
	} else {
		h.Write([]byte("*|"))
	}
	for _, t := range fr.Topics {
		if t != nil {
			fmt.Fprintf(h, "%s|", t.Hex())
		} else {
			h.Write([]byte("*|"))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// matches reports whether a log's address/topics satisfy this fragment.
func (fr Fragment) matches(address common.Address, topics [4]*common.Hash) bool {
	if fr.Address != nil && *fr.Address != address {
		return false
	}
	for i, want := range fr.Topics {
		if want == nil {
			continue
		}
		got := topics[i]
		if got == nil || *got != *want {
			return false
		}
	}
	return true
}

// ChildAddressLocation describes where a factory's deployment log encodes
// the child contract address.
type ChildAddressLocation string

// Factory is a factory fragment: a contract whose logs announce child
// contract deployments.
type Factory struct {
	ChainID              uint64
	Address              common.Address
	EventSelector        common.Hash
	ChildAddressLocation ChildAddressLocation
}

// ID is a deterministic fingerprint of the factory fragment.
func (f Factory) ID() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s", f.ChainID, f.Address.Hex(), f.EventSelector.Hex(), f.ChildAddressLocation)
	return hex.EncodeToString(h.Sum(nil))
}

// ExtractChildAddress pulls a 20-byte address out of a deployment log
// according to f.ChildAddressLocation: "topic1"|"topic2"|"topic3" reads the
// last 20 bytes of that 32-byte topic; "offsetN" reads 20 bytes starting at
// byte offset 12+N within data.
func (f Factory) ExtractChildAddress(topics [4]*common.Hash, data []byte) (common.Address, error) {
	switch f.ChildAddressLocation {
	case "topic1":
		return topicToAddress(topics[1])
	case "topic2":
		return topicToAddress(topics[2])
	case "topic3":
		return topicToAddress(topics[3])
	}

	var offset int
	if _, err := fmt.Sscanf(string(f.ChildAddressLocation), "offset%d", &offset); err != nil {
		return common.Address{}, fmt.Errorf("syncstore: invalid child address location %q", f.ChildAddressLocation)
	}

	start := 12 + offset
	if start+20 > len(data) {
		return common.Address{}, fmt.Errorf("syncstore: data too short for offset %d (len %d)", offset, len(data))
	}
	return common.BytesToAddress(data[start : start+20]), nil
}

func topicToAddress(t *common.Hash) (common.Address, error) {
	if t == nil {
		return common.Address{}, fmt.Errorf("syncstore: missing topic for child address extraction")
	}
	return common.BytesToAddress(t[12:]), nil
}
