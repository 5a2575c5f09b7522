package configuration

import "fmt"

// Kind names one of the admission predicates from spec section 7. It
// exists for logging and testability, never for control flow outside
// this package.
type Kind string

const (
	// NotValidator means the signer is not in the active validator set.
	NotValidator Kind = "not_validator"
	// FollowingPending means a configuration is already scheduled.
	FollowingPending Kind = "following_pending"
	// StaleReference means a Propose's referenced_config_hash does not
	// match hash(active()).
	StaleReference Kind = "stale_reference"
	// MalformedPayload means a Propose payload failed strict JSON decode
	// into a StoredConfiguration.
	MalformedPayload Kind = "malformed_payload"
	// NonFutureActualFrom means the parsed actual_from is not strictly
	// greater than the current height.
	NonFutureActualFrom Kind = "non_future_actual_from"
	// DuplicateProposal means a proposal with that hash is already
	// recorded.
	DuplicateProposal Kind = "duplicate_proposal"
	// DuplicateVote means that validator already voted for that
	// config-hash.
	DuplicateVote Kind = "duplicate_vote"
	// UnknownProposal means a Vote references no recorded proposal.
	UnknownProposal Kind = "unknown_proposal"
	// ProposalExpired means a Vote arrived at or after the proposal's
	// actual_from.
	ProposalExpired Kind = "proposal_expired"
)

// AdmissionError wraps a rejected admission predicate. Handlers return it
// as a normal error; the caller's contract (spec section 7) is to log it
// at debug level and apply no mutation — never to propagate it as a
// fatal engine error.
type AdmissionError struct {
	Kind Kind
	Msg  string
}

func (e *AdmissionError) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func reject(kind Kind, msg string) *AdmissionError {
	return &AdmissionError{Kind: kind, Msg: msg}
}

// IsAdmissionError reports whether err is a rejection produced by this
// package, as opposed to a storage I/O failure that must propagate.
func IsAdmissionError(err error) bool {
	_, ok := err.(*AdmissionError)
	return ok
}
