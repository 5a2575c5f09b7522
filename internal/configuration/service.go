package configuration

import (
	"context"
	"fmt"

	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
)

// ServiceID is the fixed 16-bit service id this service registers under,
// distinct from every other service the engine loads (spec section 6).
const ServiceID uint16 = 2

// Transaction tags this service registers.
const (
	TagPropose byte = 1
	TagVote    byte = 2
)

// TxHandler applies one already-authenticated transaction's raw payload
// against view. Engine exposes the read/write surface into engine-owned
// state. A returned *AdmissionError is an expected rejection; any other
// error is fatal to block application.
type TxHandler func(ctx context.Context, view *storage.View, engine Engine, raw []byte) error

// CommitHook runs once after a block commits.
type CommitHook func(engine Engine, committedHeight uint64) error

// Service is the plug-in contract the engine loads services through
// (spec section 9): a fixed id, a transaction-tag to handler table, and
// an optional commit hook. Avoid growing this into an inheritance
// hierarchy — a tagged registration is all the engine needs.
type Service interface {
	ID() uint16
	TxHandlers() map[byte]TxHandler
	CommitHook() CommitHook
}

// ConfigurationService is the Service implementation for on-chain
// configuration governance: Propose and Vote transaction handlers plus
// the block-commit activation hook.
type ConfigurationService struct{}

// NewConfigurationService constructs the configuration governance
// service for registration with the engine.
func NewConfigurationService() *ConfigurationService {
	return &ConfigurationService{}
}

func (s *ConfigurationService) ID() uint16 { return ServiceID }

func (s *ConfigurationService) TxHandlers() map[byte]TxHandler {
	return map[byte]TxHandler{
		TagPropose: handleProposeRaw,
		TagVote:    handleVoteRaw,
	}
}

func (s *ConfigurationService) CommitHook() CommitHook {
	return func(engine Engine, committedHeight uint64) error {
		return ActivationHook(engine, committedHeight)
	}
}

// handleProposeRaw decodes the wire layout from spec section 6
// (proposer_pubkey || referenced_cfg_hash || payload) and dispatches to
// HandlePropose. The envelope signature has already been verified by the
// dispatcher before raw reaches here.
func handleProposeRaw(ctx context.Context, view *storage.View, engine Engine, raw []byte) error {
	tx, err := decodeProposeTx(raw)
	if err != nil {
		return fmt.Errorf("decode propose transaction: %w", err)
	}
	return HandlePropose(ctx, view, engine, tx)
}

// handleVoteRaw decodes the wire layout (voter_pubkey || target_cfg_hash)
// and dispatches to HandleVote.
func handleVoteRaw(ctx context.Context, view *storage.View, engine Engine, raw []byte) error {
	tx, err := decodeVoteTx(raw)
	if err != nil {
		return fmt.Errorf("decode vote transaction: %w", err)
	}
	return HandleVote(ctx, view, engine, tx)
}

func decodeProposeTx(raw []byte) (ProposeTx, error) {
	const head = crypto.HashSize + 32 // referenced_cfg_hash + proposer_pubkey
	if len(raw) < head {
		return ProposeTx{}, fmt.Errorf("propose transaction too short: got %d bytes, need at least %d", len(raw), head)
	}
	var from crypto.PublicKey
	copy(from[:], raw[:32])
	var ref crypto.Hash
	copy(ref[:], raw[32:64])
	payload := append([]byte{}, raw[64:]...)
	return ProposeTx{From: from, ReferencedConfigHash: ref, Payload: payload}, nil
}

func decodeVoteTx(raw []byte) (VoteTx, error) {
	const size = 32 + crypto.HashSize
	if len(raw) != size {
		return VoteTx{}, fmt.Errorf("vote transaction must be exactly %d bytes, got %d", size, len(raw))
	}
	var from crypto.PublicKey
	copy(from[:], raw[:32])
	var target crypto.Hash
	copy(target[:], raw[32:64])
	return VoteTx{From: from, TargetConfigHash: target}, nil
}
