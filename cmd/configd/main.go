// Command configd runs one validator node of the configuration
// governance chain: storage, the BFT consensus engine with the
// configuration service registered, the gossip transport, optional
// off-chain archival, and the REST API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rechain/configchain/internal/api"
	"github.com/rechain/configchain/internal/archive"
	"github.com/rechain/configchain/internal/configuration"
	"github.com/rechain/configchain/internal/consensus"
	"github.com/rechain/configchain/internal/gossip"
	"github.com/rechain/configchain/internal/security"
	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/config"
	"github.com/rechain/configchain/pkg/crypto"
)

func main() {
	configFile := flag.String("config", "", "path to configd config file (YAML)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("configd: load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewBadgerStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("configd: open storage: %v", err)
	}
	defer store.Close()

	merkle, err := storage.NewMerkleStore(store)
	if err != nil {
		log.Fatalf("configd: build merkle index: %v", err)
	}

	genesis, err := buildGenesis(cfg.Consensus.Genesis)
	if err != nil {
		log.Fatalf("configd: build genesis configuration: %v", err)
	}

	p2p, err := gossip.NewProtocol(cfg.Gossip.ListenAddress, cfg.Gossip.Fanout, cfg.Gossip.GossipInterval, 30*cfg.Gossip.GossipInterval)
	if err != nil {
		log.Fatalf("configd: start gossip: %v", err)
	}
	defer p2p.Stop()

	for _, peerAddr := range cfg.Gossip.BootstrapPeers {
		if err := p2p.AddPeer(peerAddr); err != nil {
			log.Printf("configd: failed to add bootstrap peer %s: %v", peerAddr, err)
		}
	}

	configService := configuration.NewConfigurationService()
	engine, err := consensus.NewConsensus(store, p2p, cfg.Node.ID, genesis, cfg.Consensus.BlockInterval, configService)
	if err != nil {
		log.Fatalf("configd: initialize consensus: %v", err)
	}

	if cfg.Archive.Enabled {
		archiver, err := archive.NewArchiver(cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Bucket, cfg.Archive.UseSSL)
		if err != nil {
			log.Printf("configd: archival disabled, failed to initialize: %v", err)
		} else {
			engine.SetArchiver(archiver)
		}
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("configd: start consensus: %v", err)
	}
	defer engine.Stop()

	go relayIncoming(p2p, engine)
	go republishDigest(ctx, merkle, p2p, engine, cfg.Consensus.BlockInterval)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Address, cfg.Metrics.Path)
	}

	audit := security.NewAuditLogger(cfg.Security.AuditLogPath)

	tlsConfig, err := security.LoadTLSConfig(cfg.Security.CertFile, cfg.Security.KeyFile, "")
	if err != nil {
		log.Fatalf("configd: load TLS config: %v", err)
	}
	if tlsConfig != nil {
		certID := security.GenerateCertID()
		audit.LogSecurityEvent("tls_cert_loaded", fmt.Sprintf("cert=%s id=%s", cfg.Security.CertFile, certID))
	}

	server := api.NewServer(engine, store, audit)
	go func() {
		log.Printf("configd: REST API listening on %s", cfg.API.Address)
		if err := server.Start(cfg.API.Address, tlsConfig); err != nil && err != http.ErrServerClosed {
			log.Printf("configd: REST API server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("configd: shutting down")
	cancel()
	if err := server.Stop(); err != nil {
		log.Printf("configd: error stopping API server: %v", err)
	}
}

// serveMetrics exposes the Prometheus exposition endpoint on its own
// listener, separate from the REST API, so a scrape under load never
// queues behind governance traffic.
func serveMetrics(addr, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	log.Printf("configd: metrics listening on %s%s", addr, path)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("configd: metrics server error: %v", err)
	}
}

// relayIncoming drains gossip-relayed transaction payloads into the
// consensus mempool. The wire layout is tag (1 byte) || service id (2
// bytes, big-endian) || payload, matching what clients sign and submit.
func relayIncoming(p2p *gossip.Protocol, engine *consensus.Consensus) {
	for raw := range p2p.Incoming() {
		if len(raw) < 3 {
			log.Printf("configd: dropping undersized gossip payload (%d bytes)", len(raw))
			continue
		}
		tag := raw[0]
		serviceID := uint16(raw[1])<<8 | uint16(raw[2])
		engine.AddTransaction(consensus.Transaction{
			ServiceID: serviceID,
			Tag:       tag,
			Payload:   append([]byte{}, raw[3:]...),
		})
	}
}

// republishDigest periodically snapshots the Merkle state root at the
// engine's current height and hands it to the gossip layer's
// anti-entropy comparison.
func republishDigest(ctx context.Context, merkle *storage.MerkleStore, p2p *gossip.Protocol, engine *consensus.Consensus, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			root, err := merkle.Commit(ctx, engine.CurrentHeight())
			if err != nil {
				log.Printf("configd: failed to snapshot state root: %v", err)
				continue
			}
			p2p.SetDigest(root)
		}
	}
}

func buildGenesis(g config.GenesisConfig) (*configuration.StoredConfiguration, error) {
	if len(g.Validators) == 0 {
		return nil, fmt.Errorf("genesis validator set must not be empty")
	}

	validators := make([]crypto.PublicKey, len(g.Validators))
	for i, encoded := range g.Validators {
		pk, err := crypto.ParsePublicKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("genesis validator %d: %w", i, err)
		}
		validators[i] = pk
	}

	consensusParams, err := json.Marshal(g.Consensus)
	if err != nil {
		return nil, fmt.Errorf("encode genesis consensus params: %w", err)
	}

	services := make(map[string]json.RawMessage, len(g.Services))
	for id, raw := range g.Services {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode genesis service %s config: %w", id, err)
		}
		services[id] = encoded
	}

	return &configuration.StoredConfiguration{
		ActualFrom: 0,
		Validators: validators,
		Consensus:  consensusParams,
		Services:   services,
	}, nil
}
