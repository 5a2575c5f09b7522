package configuration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rechain/configchain/internal/configuration"
	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
	"github.com/rechain/configchain/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pubkeysOf(keys []*crypto.KeyPair) []crypto.PublicKey {
	pubs := make([]crypto.PublicKey, len(keys))
	for i, k := range keys {
		pubs[i] = k.Public
	}
	return pubs
}

func TestScenario1_PastActualFromDiscarded(t *testing.T) {
	validators, _ := testutil.GenerateValidators(t, 4)
	sb := newSandbox(t, pubkeysOf(validators))
	defer sb.close()

	sb.advanceEmpty(1, 10)

	genesisHash := mustHash(t, sb.engine.ActiveConfig())
	proposal := &configuration.StoredConfiguration{
		ActualFrom: 10,
		Validators: pubkeysOf(validators),
		Consensus:  json.RawMessage(`{}`),
		Services:   map[string]json.RawMessage{},
	}
	payload := mustPayload(t, proposal)
	sb.applyBlock(11, proposeTx(validators[0], genesisHash, payload))

	payloadHash := crypto.HashBytes(payload)
	view := storage.NewView(sb.env.Store)
	got, err := configuration.NewSchema(view).GetProposal(context.Background(), payloadHash)
	require.NoError(t, err)
	assert.Nil(t, got, "proposal with a past actual_from must not be recorded")
}

func TestScenario2_VoteAfterWindowClosesDiscarded(t *testing.T) {
	validators, _ := testutil.GenerateValidators(t, 4)
	sb := newSandbox(t, pubkeysOf(validators))
	defer sb.close()

	genesisHash := mustHash(t, sb.engine.ActiveConfig())
	proposal := &configuration.StoredConfiguration{
		ActualFrom: 10,
		Validators: pubkeysOf(validators),
		Consensus:  json.RawMessage(`{}`),
		Services:   map[string]json.RawMessage{},
	}
	payload := mustPayload(t, proposal)
	payloadHash := crypto.HashBytes(payload)

	sb.applyBlock(1, proposeTx(validators[0], genesisHash, payload))
	sb.applyBlock(2, voteTx(validators[0], payloadHash))

	sb.advanceEmpty(3, 10)

	sb.applyBlock(11, voteTx(validators[1], payloadHash))

	view := storage.NewView(sb.env.Store)
	vote, err := configuration.NewSchema(view).GetVote(context.Background(), payloadHash, validators[1].Public)
	require.NoError(t, err)
	assert.Nil(t, vote, "vote arriving after the proposal's activation window closed must not be recorded")
}

func TestScenario3_MalformedPayloadDiscarded(t *testing.T) {
	validators, _ := testutil.GenerateValidators(t, 4)
	sb := newSandbox(t, pubkeysOf(validators))
	defer sb.close()

	genesisHash := mustHash(t, sb.engine.ActiveConfig())
	blob := bytes.Repeat([]byte{0x46}, 74)

	sb.applyBlock(1, proposeTx(validators[0], genesisHash, blob))

	blobHash := crypto.HashBytes(blob)
	view := storage.NewView(sb.env.Store)
	got, err := configuration.NewSchema(view).GetProposal(context.Background(), blobHash)
	require.NoError(t, err)
	assert.Nil(t, got, "malformed payload must not be recorded as a proposal")
}

func TestScenario4_SuccessfulActivation(t *testing.T) {
	validators, _ := testutil.GenerateValidators(t, 4)
	sb := newSandbox(t, pubkeysOf(validators))
	defer sb.close()

	sb.advanceEmpty(1, 10)

	genesis := sb.engine.ActiveConfig()
	genesisHash := mustHash(t, genesis)
	proposed := &configuration.StoredConfiguration{
		ActualFrom: 15,
		Validators: pubkeysOf(validators),
		Consensus:  json.RawMessage(`{}`),
		Services:   map[string]json.RawMessage{},
	}
	payload := mustPayload(t, proposed)
	payloadHash := crypto.HashBytes(payload)

	sb.applyBlock(11, proposeTx(validators[0], genesisHash, payload))
	sb.applyBlock(12, voteTx(validators[0], payloadHash), voteTx(validators[1], payloadHash))
	sb.applyBlock(13, voteTx(validators[2], payloadHash))

	assert.Equal(t, genesisHash, mustHash(t, sb.engine.ActiveConfig()))
	require.NotNil(t, sb.engine.FollowingConfig())
	assert.Equal(t, payloadHash, mustHash(t, sb.engine.FollowingConfig()))

	sb.advanceEmpty(14, 15)

	assert.Equal(t, payloadHash, mustHash(t, sb.engine.ActiveConfig()))
	assert.Nil(t, sb.engine.FollowingConfig())
}

func TestScenario5_FrozenWhileFollowingPending(t *testing.T) {
	validators, _ := testutil.GenerateValidators(t, 4)
	sb := newSandbox(t, pubkeysOf(validators))
	defer sb.close()

	genesisHash := mustHash(t, sb.engine.ActiveConfig())
	configA := &configuration.StoredConfiguration{
		ActualFrom: 6,
		Validators: pubkeysOf(validators),
		Consensus:  json.RawMessage(`{}`),
		Services:   map[string]json.RawMessage{},
	}
	payloadA := mustPayload(t, configA)
	hashA := crypto.HashBytes(payloadA)

	sb.applyBlock(1, proposeTx(validators[0], genesisHash, payloadA))
	sb.applyBlock(2, voteTx(validators[0], hashA), voteTx(validators[1], hashA))
	sb.applyBlock(3, voteTx(validators[2], hashA))

	require.NotNil(t, sb.engine.FollowingConfig())
	assert.Equal(t, hashA, mustHash(t, sb.engine.FollowingConfig()))

	configB := &configuration.StoredConfiguration{
		ActualFrom: 20,
		Validators: pubkeysOf(validators),
		Consensus:  json.RawMessage(`{}`),
		Services:   map[string]json.RawMessage{},
	}
	payloadB := mustPayload(t, configB)
	sb.applyBlock(4, proposeTx(validators[1], genesisHash, payloadB))

	view := storage.NewView(sb.env.Store)
	gotB, err := configuration.NewSchema(view).GetProposal(context.Background(), crypto.HashBytes(payloadB))
	require.NoError(t, err)
	assert.Nil(t, gotB, "new proposal while following is pending must be silently dropped")

	sb.applyBlock(5, voteTx(validators[3], hashA))

	view = storage.NewView(sb.env.Store)
	gotVote, err := configuration.NewSchema(view).GetVote(context.Background(), hashA, validators[3].Public)
	require.NoError(t, err)
	assert.Nil(t, gotVote, "vote while following is pending must be silently dropped, even for the pending proposal")

	sb.applyBlock(6)

	assert.Equal(t, hashA, mustHash(t, sb.engine.ActiveConfig()))
	assert.Nil(t, sb.engine.FollowingConfig())
}

func TestScenario6_PerProposalTallyRegression(t *testing.T) {
	validators, _ := testutil.GenerateValidators(t, 4)
	sb := newSandbox(t, pubkeysOf(validators))
	defer sb.close()

	genesisHash := mustHash(t, sb.engine.ActiveConfig())
	cfg1 := &configuration.StoredConfiguration{ActualFrom: 5, Validators: pubkeysOf(validators), Consensus: json.RawMessage(`{"variant":1}`), Services: map[string]json.RawMessage{}}
	cfg2 := &configuration.StoredConfiguration{ActualFrom: 5, Validators: pubkeysOf(validators), Consensus: json.RawMessage(`{"variant":2}`), Services: map[string]json.RawMessage{}}
	payload1 := mustPayload(t, cfg1)
	payload2 := mustPayload(t, cfg2)
	hash1 := crypto.HashBytes(payload1)
	hash2 := crypto.HashBytes(payload2)

	sb.applyBlock(2, proposeTx(validators[0], genesisHash, payload1), proposeTx(validators[1], genesisHash, payload2))

	sb.applyBlock(3, voteTx(validators[0], hash1), voteTx(validators[1], hash1))
	sb.applyBlock(4, voteTx(validators[2], hash2))

	assert.Nil(t, sb.engine.FollowingConfig(), "two votes on cfg1 plus one on cfg2 must not pool into a threshold for either")
	assert.Equal(t, genesisHash, mustHash(t, sb.engine.ActiveConfig()))

	sb.applyBlock(5, voteTx(validators[2], hash1))

	assert.Equal(t, hash1, mustHash(t, sb.engine.ActiveConfig()), "cfg1 alone reaches threshold and activates at its actual_from")
	assert.Nil(t, sb.engine.FollowingConfig())
}

func TestScenario7_StaleVoteAfterActivationDoesNotRetroactivelySchedule(t *testing.T) {
	validators, _ := testutil.GenerateValidators(t, 4)
	sb := newSandbox(t, pubkeysOf(validators))
	defer sb.close()

	genesisHash := mustHash(t, sb.engine.ActiveConfig())
	p1 := &configuration.StoredConfiguration{ActualFrom: 3, Validators: pubkeysOf(validators), Consensus: json.RawMessage(`{"gen":1}`), Services: map[string]json.RawMessage{}}
	payload1 := mustPayload(t, p1)
	hash1 := crypto.HashBytes(payload1)

	sb.applyBlock(1, proposeTx(validators[0], genesisHash, payload1))
	sb.applyBlock(2, voteTx(validators[0], hash1), voteTx(validators[1], hash1), voteTx(validators[2], hash1))
	sb.applyBlock(3)

	assert.Equal(t, hash1, mustHash(t, sb.engine.ActiveConfig()), "P1 activates at height 3")

	p2 := &configuration.StoredConfiguration{ActualFrom: 5, Validators: pubkeysOf(validators), Consensus: json.RawMessage(`{"gen":2}`), Services: map[string]json.RawMessage{}}
	payload2 := mustPayload(t, p2)
	hash2 := crypto.HashBytes(payload2)

	sb.applyBlock(4,
		proposeTx(validators[1], hash1, payload2),
		voteTx(validators[0], hash2), voteTx(validators[1], hash2), voteTx(validators[2], hash2),
	)
	sb.applyBlock(5)

	assert.Equal(t, hash2, mustHash(t, sb.engine.ActiveConfig()), "P2 activates at height 5")

	sb.applyBlock(6, voteTx(validators[3], hash1))

	view := storage.NewView(sb.env.Store)
	gotVote, err := configuration.NewSchema(view).GetVote(context.Background(), hash1, validators[3].Public)
	require.NoError(t, err)
	assert.Nil(t, gotVote, "a vote for an already-activated proposal's config-hash must still be rejected once its own window has closed")
	assert.Equal(t, hash2, mustHash(t, sb.engine.ActiveConfig()))
}
