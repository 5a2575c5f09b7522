package configuration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
)

const (
	proposalPrefix = "configuration/proposal/"
	votePrefix     = "configuration/vote/"
)

// Schema is the typed accessor over the shared key-value view described
// in spec section 4.1: the proposals index (config-hash -> Proposal) and
// the votes index (config-hash -> validator pubkey -> Vote). It holds no
// state of its own beyond the View it wraps.
type Schema struct {
	view *storage.View
}

// NewSchema wraps view with typed configuration accessors.
func NewSchema(view *storage.View) *Schema {
	return &Schema{view: view}
}

func proposalKey(hash crypto.Hash) []byte {
	return append([]byte(proposalPrefix), hash[:]...)
}

func voteKey(cfgHash crypto.Hash, voter crypto.PublicKey) []byte {
	key := append([]byte(votePrefix), cfgHash[:]...)
	return append(key, voter[:]...)
}

func votePrefixFor(cfgHash crypto.Hash) []byte {
	return append([]byte(votePrefix), cfgHash[:]...)
}

// GetProposal returns the proposal recorded under hash, or nil if none
// has been recorded.
func (s *Schema) GetProposal(ctx context.Context, hash crypto.Hash) (*Proposal, error) {
	raw, err := s.view.Get(ctx, proposalKey(hash))
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode stored proposal: %w", err)
	}
	return &p, nil
}

// PutProposal records p under hash. Proposal records are append-only:
// callers must have already checked GetProposal returned nil.
func (s *Schema) PutProposal(hash crypto.Hash, p *Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal: %w", err)
	}
	s.view.Put(proposalKey(hash), raw)
	return nil
}

// GetVote returns the vote recorded by voter for cfgHash, or nil if
// voter has not yet voted for that config-hash.
func (s *Schema) GetVote(ctx context.Context, cfgHash crypto.Hash, voter crypto.PublicKey) (*Vote, error) {
	raw, err := s.view.Get(ctx, voteKey(cfgHash, voter))
	if err != nil {
		return nil, fmt.Errorf("get vote: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var v Vote
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode stored vote: %w", err)
	}
	return &v, nil
}

// PutVote records v for cfgHash under voter. Vote records are
// append-only: callers must have already checked GetVote returned nil.
func (s *Schema) PutVote(cfgHash crypto.Hash, voter crypto.PublicKey, v *Vote) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}
	s.view.Put(voteKey(cfgHash, voter), raw)
	return nil
}

// IterVotes returns every vote recorded for cfgHash, ordered by voter
// public key. The order is not required for tally correctness (the
// tally is a plain count) but keeps traces and derived logs reproducible
// across replicas, per spec section 9.
func (s *Schema) IterVotes(ctx context.Context, cfgHash crypto.Hash) ([]*Vote, error) {
	var votes []*Vote
	err := s.view.Iterate(ctx, votePrefixFor(cfgHash), func(_, value []byte) error {
		var v Vote
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decode stored vote during iteration: %w", err)
		}
		votes = append(votes, &v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(votes, func(i, j int) bool {
		return votes[i].From.Less(votes[j].From)
	})
	return votes, nil
}
