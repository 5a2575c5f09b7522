package configuration

import (
	"context"

	"github.com/rechain/configchain/internal/metrics"
	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
)

// VoteTx is the semantic payload of a Vote transaction (spec section 6).
type VoteTx struct {
	From             crypto.PublicKey
	TargetConfigHash crypto.Hash
}

// HandleVote validates tx against the admission predicate in spec
// section 4.3, records a Vote on success, and runs the tally step: if
// the resulting vote count for tx.TargetConfigHash crosses the
// supermajority threshold and no configuration is already scheduled, the
// proposal's parsed configuration is scheduled as the following
// configuration. See HandlePropose for the error-propagation contract.
func HandleVote(ctx context.Context, view *storage.View, engine Engine, tx VoteTx) error {
	schema := NewSchema(view)
	active := engine.ActiveConfig()

	if !active.HasValidator(tx.From) {
		return logReject(reject(NotValidator, "vote signer is not an active validator"))
	}
	if engine.FollowingConfig() != nil {
		return logReject(reject(FollowingPending, "a configuration is already scheduled"))
	}

	proposal, err := schema.GetProposal(ctx, tx.TargetConfigHash)
	if err != nil {
		return err
	}
	if proposal == nil {
		return logReject(reject(UnknownProposal, "target_config_hash references no recorded proposal"))
	}

	parsed, err := ParseStoredConfiguration(proposal.Payload)
	if err != nil {
		// The proposal was only ever recorded after passing
		// ParseStoredConfiguration in HandlePropose; a failure here
		// means stored data has been corrupted, not an adversarial
		// vote. Treat it as a storage-level failure.
		return err
	}

	if parsed.ActualFrom <= engine.CurrentHeight() {
		return logReject(reject(ProposalExpired, "proposal's activation window has already closed"))
	}

	existingVote, err := schema.GetVote(ctx, tx.TargetConfigHash, tx.From)
	if err != nil {
		return err
	}
	if existingVote != nil {
		return logReject(reject(DuplicateVote, "this validator already voted for this config-hash"))
	}

	if err := schema.PutVote(tx.TargetConfigHash, tx.From, &Vote{
		From:             tx.From,
		TargetConfigHash: tx.TargetConfigHash,
	}); err != nil {
		return err
	}
	metrics.VotesAccepted.Inc()

	return tally(ctx, schema, engine, active, tx.TargetConfigHash, parsed)
}

// tally recomputes the vote count for cfgHash and schedules parsed as
// the following configuration if supermajority is reached. Votes are
// counted strictly per cfgHash: this function never aggregates counts
// across distinct proposals, which is the regression spec section 4.3
// calls out by name.
func tally(ctx context.Context, schema *Schema, engine Engine, active *StoredConfiguration, cfgHash crypto.Hash, parsed *StoredConfiguration) error {
	votes, err := schema.IterVotes(ctx, cfgHash)
	if err != nil {
		return err
	}

	count := 0
	for _, v := range votes {
		if active.HasValidator(v.From) {
			count++
		}
	}

	if count < active.Supermajority() {
		return nil
	}
	if engine.FollowingConfig() != nil {
		return nil
	}
	return engine.ScheduleFollowing(parsed)
}
