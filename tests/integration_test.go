// Package tests holds the single black-box end-to-end test that wires a
// full node together: storage, consensus, gossip, the REST API, and
// archival, exercised the way a real validator binary would exercise
// them rather than through any one package's internals.
package tests

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/configchain/internal/api"
	"github.com/rechain/configchain/internal/archive"
	"github.com/rechain/configchain/internal/configuration"
	"github.com/rechain/configchain/internal/consensus"
	"github.com/rechain/configchain/internal/gossip"
	"github.com/rechain/configchain/internal/metrics"
	"github.com/rechain/configchain/internal/security"
	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
)

// TestFullSystemIntegration builds one validator node from its real
// components — no mocks — and drives it purely through its REST surface,
// the way an operator or a client would. A single-validator genesis
// makes the node its own proposer and its own supermajority, so the
// whole propose/vote/schedule pipeline runs deterministically without
// needing to coordinate multiple nodes or races on leader election.
func TestFullSystemIntegration(t *testing.T) {
	validator, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	genesis := &configuration.StoredConfiguration{
		ActualFrom: 0,
		Validators: []crypto.PublicKey{validator.Public},
		Consensus:  json.RawMessage(`{}`),
		Services:   map[string]json.RawMessage{},
	}

	store, err := storage.NewBadgerStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	defer store.Close()

	merkle, err := storage.NewMerkleStore(store)
	require.NoError(t, err)

	p2p, err := gossip.NewProtocol("/ip4/127.0.0.1/tcp/0", 3, 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer p2p.Stop()

	engine, err := consensus.NewConsensus(store, p2p, "node-0", genesis, 50*time.Millisecond, configuration.NewConfigurationService())
	require.NoError(t, err)
	require.NoError(t, engine.Start())
	defer engine.Stop()

	audit := security.NewAuditLogger(filepath.Join(t.TempDir(), "audit.log"))
	server := api.NewServer(engine, store, audit)
	go func() {
		_ = server.Start("127.0.0.1:0", nil)
	}()
	defer server.Stop()

	require.Eventually(t, func() bool { return server.Addr() != "" }, 2*time.Second, 10*time.Millisecond, "server should bind its listener")
	baseURL := "http://" + server.Addr()

	t.Run("health reports the running height", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "healthy", body["status"])
		assert.Contains(t, body, "height")
	})

	t.Run("active configuration is genesis", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/configuration/active")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var active configuration.StoredConfiguration
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&active))
		assert.Equal(t, genesis.Validators, active.Validators)
	})

	require.Eventually(t, func() bool { return engine.CurrentHeight() > 0 }, 2*time.Second, 20*time.Millisecond, "block production should advance height on its own")

	activeHash, err := genesis.Hash()
	require.NoError(t, err)

	proposed := &configuration.StoredConfiguration{
		// Far beyond any height this test could reach, so scheduling is
		// observable via /configuration/following without racing full
		// activation.
		ActualFrom: 1_000_000,
		Validators: genesis.Validators,
		Consensus:  json.RawMessage(`{"round_timeout_ms":500}`),
		Services:   map[string]json.RawMessage{},
	}
	payload, err := proposed.MarshalCanonical()
	require.NoError(t, err)
	payloadHash := crypto.HashBytes(payload)

	t.Run("propose and vote end to end", func(t *testing.T) {
		sig := validator.Sign(payload)
		proposeBody, err := json.Marshal(map[string]interface{}{
			"from":                   validator.Public.String(),
			"referenced_config_hash": activeHash.String(),
			"payload":                json.RawMessage(payload),
			"signature":              base64.StdEncoding.EncodeToString(sig),
		})
		require.NoError(t, err)

		resp, err := http.Post(baseURL+"/configuration/propose", "application/json", bytes.NewReader(proposeBody))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		require.Eventually(t, func() bool {
			resp, err := http.Get(fmt.Sprintf("%s/configuration/proposals/%s", baseURL, payloadHash.String()))
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 50*time.Millisecond, "proposal should be recorded once a block applies it")

		voteSig := validator.Sign(payloadHash[:])
		voteBody, err := json.Marshal(map[string]string{
			"from":               validator.Public.String(),
			"target_config_hash": payloadHash.String(),
			"signature":          base64.StdEncoding.EncodeToString(voteSig),
		})
		require.NoError(t, err)

		voteResp, err := http.Post(baseURL+"/configuration/vote", "application/json", bytes.NewReader(voteBody))
		require.NoError(t, err)
		defer voteResp.Body.Close()
		assert.Equal(t, http.StatusAccepted, voteResp.StatusCode)

		require.Eventually(t, func() bool {
			resp, err := http.Get(baseURL + "/configuration/following")
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			var following configuration.StoredConfiguration
			if json.NewDecoder(resp.Body).Decode(&following) != nil {
				return false
			}
			return following.ActualFrom == proposed.ActualFrom
		}, 5*time.Second, 50*time.Millisecond, "the sole validator's vote already reaches supermajority and should schedule the proposal")

		votesResp, err := http.Get(fmt.Sprintf("%s/configuration/votes/%s", baseURL, payloadHash.String()))
		require.NoError(t, err)
		defer votesResp.Body.Close()
		var votesBody map[string]interface{}
		require.NoError(t, json.NewDecoder(votesResp.Body).Decode(&votesBody))
		assert.EqualValues(t, 1, votesBody["count"])
	})

	t.Run("state root advances as blocks commit", func(t *testing.T) {
		root, err := merkle.Commit(context.Background(), engine.CurrentHeight())
		require.NoError(t, err)
		assert.NotEmpty(t, root)
	})

	t.Run("block and admission metrics are exported", func(t *testing.T) {
		// Block production never stops, so only assert monotonically-true
		// lower bounds rather than exact values that could race a commit.
		assert.Greater(t, testutil.ToFloat64(metrics.BlocksCommitted), float64(0))
		assert.Greater(t, testutil.ToFloat64(metrics.CurrentHeight), float64(0))
		assert.Greater(t, testutil.ToFloat64(metrics.ProposalsAccepted), float64(0))
		assert.Greater(t, testutil.ToFloat64(metrics.VotesAccepted), float64(0))
	})

	t.Run("archival against an unreachable endpoint fails loudly", func(t *testing.T) {
		_, err := archive.NewArchiver("127.0.0.1:1", "access", "secret", "configchain-archive-test", false)
		assert.Error(t, err)
	})
}
