package gossip

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
)

// Protocol disseminates signed Propose/Vote transaction envelopes
// between validator nodes ahead of block inclusion. Our state machine is
// strictly ordered and single-writer, so unlike the CRDT gossip this
// package was adapted from, there is nothing here to merge: every
// message is either a transaction to relay into the local mempool, or an
// anti-entropy heartbeat comparing committed-state digests.
type Protocol struct {
	host       host.Host
	peers      map[peer.ID]*PeerInfo
	peersMutex sync.RWMutex

	incoming chan []byte
	outgoing chan *Message

	digest      string
	digestMutex sync.RWMutex

	fanout              int
	gossipInterval      time.Duration
	antiEntropyInterval time.Duration

	quit chan struct{}
}

// PeerInfo holds information about a connected peer.
type PeerInfo struct {
	ID       peer.ID
	LastSeen time.Time
	Score    int
}

// Message is one gossip protocol message.
type Message struct {
	ID        string
	Type      MessageType
	Payload   []byte
	Timestamp time.Time
	Sender    peer.ID
	TTL       int
}

// MessageType distinguishes a relayed transaction from an anti-entropy
// heartbeat.
type MessageType int

const (
	TxMessage MessageType = iota
	AntiEntropyMessage
)

// NewProtocol starts a libp2p host and the background gossip loops.
func NewProtocol(listenAddr string, fanout int, gossipInterval, antiEntropyInterval time.Duration) (*Protocol, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	gp := &Protocol{
		host:                h,
		peers:               make(map[peer.ID]*PeerInfo),
		incoming:            make(chan []byte, 1000),
		outgoing:            make(chan *Message, 1000),
		fanout:              fanout,
		gossipInterval:      gossipInterval,
		antiEntropyInterval: antiEntropyInterval,
		quit:                make(chan struct{}),
	}

	h.SetStreamHandler(protocol.ID("/configchain/gossip/1.0.0"), gp.handleStream)

	go gp.processOutgoing()
	go gp.antiEntropyLoop()

	log.Printf("gossip: protocol started on %s", h.ID())
	return gp, nil
}

// Start is a no-op retained for symmetry with the other long-running
// components this node wires together.
func (gp *Protocol) Start() error {
	log.Println("gossip: protocol running")
	return nil
}

// Stop shuts down the gossip loops and the libp2p host.
func (gp *Protocol) Stop() error {
	close(gp.quit)
	return gp.host.Close()
}

// Incoming returns the channel of relayed transaction payloads received
// from peers. The caller (the node's consensus wiring) drains it into
// its own mempool; this package never interprets transaction bytes.
func (gp *Protocol) Incoming() <-chan []byte {
	return gp.incoming
}

// AddPeer connects to and tracks a peer given its multiaddr.
func (gp *Protocol) AddPeer(peerAddr string) error {
	addr, err := multiaddr.NewMultiaddr(peerAddr)
	if err != nil {
		return fmt.Errorf("invalid peer address: %w", err)
	}

	peerInfo, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("parse peer info: %w", err)
	}

	if err := gp.host.Connect(context.Background(), *peerInfo); err != nil {
		return fmt.Errorf("connect to peer: %w", err)
	}

	gp.peersMutex.Lock()
	gp.peers[peerInfo.ID] = &PeerInfo{ID: peerInfo.ID, LastSeen: time.Now()}
	gp.peersMutex.Unlock()

	log.Printf("gossip: added peer %s", peerInfo.ID)
	return nil
}

// BroadcastTx relays a signed transaction envelope to a fanout subset of
// known peers.
func (gp *Protocol) BroadcastTx(payload []byte) error {
	msg := &Message{
		ID:        generateMessageID(),
		Type:      TxMessage,
		Payload:   payload,
		Timestamp: time.Now(),
		Sender:    gp.host.ID(),
		TTL:       10,
	}

	select {
	case gp.outgoing <- msg:
		return nil
	default:
		return fmt.Errorf("outgoing message queue full")
	}
}

// SetDigest records the local committed-state digest used for
// anti-entropy comparisons — callers pass the Merkle root hash from
// internal/storage.MerkleStore after each commit.
func (gp *Protocol) SetDigest(digest string) {
	gp.digestMutex.Lock()
	gp.digest = digest
	gp.digestMutex.Unlock()
}

func (gp *Protocol) localDigest() string {
	gp.digestMutex.RLock()
	defer gp.digestMutex.RUnlock()
	return gp.digest
}

func (gp *Protocol) processOutgoing() {
	for {
		select {
		case <-gp.quit:
			return
		case msg := <-gp.outgoing:
			gp.fanoutSend(msg)
		}
	}
}

func (gp *Protocol) fanoutSend(msg *Message) {
	gp.peersMutex.RLock()
	peerIDs := make([]peer.ID, 0, len(gp.peers))
	for id := range gp.peers {
		peerIDs = append(peerIDs, id)
	}
	gp.peersMutex.RUnlock()

	if len(peerIDs) == 0 {
		return
	}

	for _, peerID := range selectRandomPeers(peerIDs, gp.fanout) {
		gp.sendMessage(peerID, msg)
	}
}

func (gp *Protocol) antiEntropyLoop() {
	ticker := time.NewTicker(gp.antiEntropyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gp.quit:
			return
		case <-ticker.C:
			gp.performAntiEntropy()
		}
	}
}

func (gp *Protocol) performAntiEntropy() {
	gp.peersMutex.RLock()
	peerIDs := make([]peer.ID, 0, len(gp.peers))
	for id := range gp.peers {
		peerIDs = append(peerIDs, id)
	}
	gp.peersMutex.RUnlock()

	if len(peerIDs) == 0 {
		return
	}

	selectedPeer := selectRandomPeers(peerIDs, 1)[0]

	payload, _ := json.Marshal(map[string]string{"digest": gp.localDigest()})
	msg := &Message{
		ID:        generateMessageID(),
		Type:      AntiEntropyMessage,
		Payload:   payload,
		Timestamp: time.Now(),
		Sender:    gp.host.ID(),
		TTL:       3,
	}
	gp.sendMessage(selectedPeer, msg)
}

func (gp *Protocol) handleStream(s network.Stream) {
	defer s.Close()

	var msg Message
	if err := json.NewDecoder(s).Decode(&msg); err != nil {
		log.Printf("gossip: failed to decode message: %v", err)
		return
	}

	gp.peersMutex.Lock()
	if p, exists := gp.peers[msg.Sender]; exists {
		p.LastSeen = time.Now()
	}
	gp.peersMutex.Unlock()

	switch msg.Type {
	case TxMessage:
		select {
		case gp.incoming <- msg.Payload:
		default:
			log.Println("gossip: incoming transaction queue full, dropping message")
		}
	case AntiEntropyMessage:
		gp.handleAntiEntropy(msg)
	}
}

func (gp *Protocol) handleAntiEntropy(msg Message) {
	var peerState map[string]string
	if err := json.Unmarshal(msg.Payload, &peerState); err != nil {
		log.Printf("gossip: failed to unmarshal anti-entropy message: %v", err)
		return
	}
	if peerState["digest"] != gp.localDigest() {
		log.Printf("gossip: state digest mismatch with peer %s (local=%s peer=%s)", msg.Sender, gp.localDigest(), peerState["digest"])
	}
}

func (gp *Protocol) sendMessage(peerID peer.ID, msg *Message) {
	s, err := gp.host.NewStream(context.Background(), peerID, protocol.ID("/configchain/gossip/1.0.0"))
	if err != nil {
		log.Printf("gossip: failed to create stream to %s: %v", peerID, err)
		return
	}
	defer s.Close()

	if err := json.NewEncoder(s).Encode(msg); err != nil {
		log.Printf("gossip: failed to send message to %s: %v", peerID, err)
	}
}

func selectRandomPeers(peers []peer.ID, n int) []peer.ID {
	if len(peers) <= n {
		return peers
	}

	selected := make([]peer.ID, n)
	for i := 0; i < n; i++ {
		randomIndex := make([]byte, 1)
		rand.Read(randomIndex)
		index := int(randomIndex[0]) % len(peers)
		selected[i] = peers[index]
		peers = append(peers[:index], peers[index+1:]...)
	}

	return selected
}

func generateMessageID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
