package configuration

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rechain/configchain/pkg/crypto"
)

// StoredConfiguration is the canonical network parameter set: the
// authoritative validator set, opaque consensus parameters, and a
// per-service map of opaque configuration blobs. Two configurations that
// are semantically equal marshal to byte-identical JSON, so their
// content hashes agree across every replica.
type StoredConfiguration struct {
	ActualFrom uint64               `json:"actual_from"`
	Validators []crypto.PublicKey   `json:"validators"`
	Consensus  json.RawMessage      `json:"consensus"`
	Services   map[string]json.RawMessage `json:"services"`
}

// ParseStoredConfiguration strictly decodes payload into a
// StoredConfiguration. Per spec section 4.2 step 4, any payload that
// does not decode cleanly into exactly this shape is rejected rather
// than partially accepted.
func ParseStoredConfiguration(payload []byte) (*StoredConfiguration, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()

	var cfg StoredConfiguration
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode stored configuration: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode stored configuration: trailing data after JSON value")
	}
	if len(cfg.Validators) == 0 {
		return nil, fmt.Errorf("decode stored configuration: validators must not be empty")
	}
	if cfg.Consensus == nil {
		return nil, fmt.Errorf("decode stored configuration: consensus field is required")
	}
	return &cfg, nil
}

// MarshalCanonical renders the configuration to its canonical byte
// serialization. encoding/json already gives us everything canonical
// form requires here: struct fields marshal in fixed declaration order
// and map keys (the services table) are sorted lexicographically, so
// equal configurations always produce equal bytes.
func (sc *StoredConfiguration) MarshalCanonical() ([]byte, error) {
	return json.Marshal(sc)
}

// Hash returns the content hash of the configuration's canonical byte
// serialization — the sole identifier used in proposals and votes.
func (sc *StoredConfiguration) Hash() (crypto.Hash, error) {
	b, err := sc.MarshalCanonical()
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.HashBytes(b), nil
}

// HasValidator reports whether pk occupies a position in the
// configuration's validator sequence.
func (sc *StoredConfiguration) HasValidator(pk crypto.PublicKey) bool {
	for _, v := range sc.Validators {
		if v == pk {
			return true
		}
	}
	return false
}

// Supermajority returns the number of votes strictly more than
// two-thirds of the validator set requires: floor(2N/3) + 1.
func (sc *StoredConfiguration) Supermajority() int {
	n := len(sc.Validators)
	return (2*n)/3 + 1
}

// Proposal is the persisted record of an accepted Propose transaction:
// the submitted configuration bytes, who submitted them, and the
// config-hash the proposer believed active at the time.
type Proposal struct {
	From                 crypto.PublicKey `json:"from"`
	ReferencedConfigHash crypto.Hash      `json:"referenced_config_hash"`
	Payload              []byte           `json:"payload"`
}

// Vote is the persisted record of an accepted Vote transaction.
type Vote struct {
	From            crypto.PublicKey `json:"from"`
	TargetConfigHash crypto.Hash     `json:"target_config_hash"`
}
