package configuration_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rechain/configchain/internal/configuration"
	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
	"github.com/rechain/configchain/testutil"
	"github.com/stretchr/testify/require"
)

// sandboxEngine is the minimal Engine a test needs: no gossip, no real
// consensus, just the height/active/following bookkeeping the
// configuration service is contractually allowed to depend on.
type sandboxEngine struct {
	height    uint64
	active    *configuration.StoredConfiguration
	following *configuration.StoredConfiguration
}

func (e *sandboxEngine) CurrentHeight() uint64 { return e.height }

func (e *sandboxEngine) ActiveConfig() *configuration.StoredConfiguration { return e.active }

func (e *sandboxEngine) FollowingConfig() *configuration.StoredConfiguration { return e.following }

func (e *sandboxEngine) ScheduleFollowing(cfg *configuration.StoredConfiguration) error {
	if e.following != nil {
		return nil
	}
	e.following = cfg
	return nil
}

func (e *sandboxEngine) ActivateFollowing() error {
	e.active = e.following
	e.following = nil
	return nil
}

// rawTx is one transaction queued for a sandbox block.
type rawTx struct {
	tag byte
	raw []byte
}

func proposeTx(from *crypto.KeyPair, referenced crypto.Hash, payload []byte) rawTx {
	raw := append([]byte{}, from.Public[:]...)
	raw = append(raw, referenced[:]...)
	raw = append(raw, payload...)
	return rawTx{tag: configuration.TagPropose, raw: raw}
}

func voteTx(from *crypto.KeyPair, target crypto.Hash) rawTx {
	raw := append([]byte{}, from.Public[:]...)
	raw = append(raw, target[:]...)
	return rawTx{tag: configuration.TagVote, raw: raw}
}

// sandbox drives the configuration service through a sequence of blocks
// exactly as the original Rust sandbox tests do: apply zero or more
// transactions at a height, commit, run the activation hook.
type sandbox struct {
	t      *testing.T
	env    *testutil.TestEnvironment
	engine *sandboxEngine
	svc    *configuration.ConfigurationService
}

func newSandbox(t *testing.T, validators []crypto.PublicKey) *sandbox {
	t.Helper()
	env := testutil.NewTestEnvironment(t)
	genesis := &configuration.StoredConfiguration{
		ActualFrom: 0,
		Validators: validators,
		Consensus:  json.RawMessage(`{}`),
		Services:   map[string]json.RawMessage{},
	}
	return &sandbox{
		t:      t,
		env:    env,
		engine: &sandboxEngine{height: 0, active: genesis},
		svc:    configuration.NewConfigurationService(),
	}
}

func (s *sandbox) close() { s.env.Close() }

// applyBlock applies txs in the block that commits to height. While a
// transaction is being admitted, CurrentHeight reports the
// last-committed height (height-1): the block being built has not
// committed yet. Once every transaction has been applied, the view is
// committed and the activation hook runs with height as the
// newly-committed height, after which reads observe engine state as of
// height.
func (s *sandbox) applyBlock(height uint64, txs ...rawTx) {
	s.t.Helper()
	s.engine.height = height - 1

	view := storage.NewView(s.env.Store)
	handlers := s.svc.TxHandlers()
	for _, tx := range txs {
		handler, ok := handlers[tx.tag]
		require.True(s.t, ok, "no handler registered for tag %d", tx.tag)
		if err := handler(context.Background(), view, s.engine, tx.raw); err != nil {
			require.True(s.t, configuration.IsAdmissionError(err), "unexpected non-admission error: %v", err)
		}
	}
	require.NoError(s.t, view.Commit(context.Background()))
	s.engine.height = height
	require.NoError(s.t, s.svc.CommitHook()(s.engine, height))
}

// advanceEmpty commits from-inclusive to to-inclusive empty blocks.
func (s *sandbox) advanceEmpty(from, to uint64) {
	for h := from; h <= to; h++ {
		s.applyBlock(h)
	}
}

func mustPayload(t *testing.T, cfg *configuration.StoredConfiguration) []byte {
	t.Helper()
	payload, err := cfg.MarshalCanonical()
	require.NoError(t, err)
	return payload
}

func mustHash(t *testing.T, cfg *configuration.StoredConfiguration) crypto.Hash {
	t.Helper()
	h, err := cfg.Hash()
	require.NoError(t, err)
	return h
}
