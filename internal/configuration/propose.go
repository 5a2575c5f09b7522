package configuration

import (
	"context"
	"log"

	"github.com/rechain/configchain/internal/metrics"
	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
)

// ProposeTx is the semantic payload of a Propose transaction (spec
// section 6). By the time a handler sees one, the envelope signature
// has already been verified by the dispatcher and From is authenticated.
type ProposeTx struct {
	From                 crypto.PublicKey
	ReferencedConfigHash crypto.Hash
	Payload              []byte
}

// HandlePropose validates tx against the admission predicate in spec
// section 4.2 and, if every step passes, records a Proposal. A non-nil
// *AdmissionError return means the transaction was silently rejected:
// no mutation was made and the caller should log it at debug level and
// move on. Any other non-nil error is a storage failure and must
// propagate as fatal to block application.
func HandlePropose(ctx context.Context, view *storage.View, engine Engine, tx ProposeTx) error {
	schema := NewSchema(view)
	active := engine.ActiveConfig()

	if !active.HasValidator(tx.From) {
		return logReject(reject(NotValidator, "propose signer is not an active validator"))
	}
	if engine.FollowingConfig() != nil {
		return logReject(reject(FollowingPending, "a configuration is already scheduled"))
	}

	activeHash, err := active.Hash()
	if err != nil {
		return err
	}
	if tx.ReferencedConfigHash != activeHash {
		return logReject(reject(StaleReference, "referenced_config_hash does not match hash(active())"))
	}

	parsed, err := ParseStoredConfiguration(tx.Payload)
	if err != nil {
		return logReject(reject(MalformedPayload, err.Error()))
	}

	if parsed.ActualFrom <= engine.CurrentHeight() {
		return logReject(reject(NonFutureActualFrom, "parsed actual_from is not strictly greater than current height"))
	}

	payloadHash := crypto.HashBytes(tx.Payload)
	existing, err := schema.GetProposal(ctx, payloadHash)
	if err != nil {
		return err
	}
	if existing != nil {
		return logReject(reject(DuplicateProposal, "a proposal with this payload hash is already recorded"))
	}

	if err := schema.PutProposal(payloadHash, &Proposal{
		From:                 tx.From,
		ReferencedConfigHash: tx.ReferencedConfigHash,
		Payload:              tx.Payload,
	}); err != nil {
		return err
	}
	metrics.ProposalsAccepted.Inc()
	return nil
}

func logReject(err *AdmissionError) error {
	log.Printf("[configuration] reject: %s", err)
	metrics.AdmissionRejections.WithLabelValues(string(err.Kind)).Inc()
	return err
}
