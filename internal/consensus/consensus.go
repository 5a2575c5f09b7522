package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rechain/configchain/internal/archive"
	"github.com/rechain/configchain/internal/configuration"
	"github.com/rechain/configchain/internal/gossip"
	"github.com/rechain/configchain/internal/metrics"
	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
)

// Consensus hosts the BFT block-apply loop (Tendermint-style round/step
// machine) and the plug-in services that transactions are dispatched to.
// It is the sole implementor of configuration.Engine in this program:
// the configuration service never reaches into consensus internals, it
// only ever calls back through that interface.
type Consensus struct {
	store storage.Store
	p2p   *gossip.Protocol

	height uint64
	round  int32
	step   Step

	votingMutex sync.Mutex

	validators     []crypto.PublicKey
	validatorIndex int
	nodeID         string

	timeoutPrevote   time.Duration
	timeoutPrecommit time.Duration
	timeoutCommit    time.Duration
	blockInterval    time.Duration

	mempool []Transaction

	services map[uint16]configuration.Service

	active    *configuration.StoredConfiguration
	following *configuration.StoredConfiguration

	archiver *archive.Archiver

	proposals chan *Proposal
	blocks    chan *Block
	quit      chan struct{}
}

// Step represents the current step in the consensus round.
type Step int

const (
	Propose Step = iota
	Prevote
	Precommit
	Commit
)

// Transaction is a dispatched-but-not-yet-applied transaction: which
// service it targets, which of that service's tags it invokes, and the
// service-specific wire payload (see internal/configuration's wire
// layout for the configuration service's own tags).
type Transaction struct {
	ServiceID uint16
	Tag       byte
	Payload   []byte
}

// id returns a content-addressed identifier for dedup/logging.
func (tx Transaction) id() string {
	h := sha256.Sum256(append([]byte{tx.Tag, byte(tx.ServiceID), byte(tx.ServiceID >> 8)}, tx.Payload...))
	return fmt.Sprintf("%x", h[:8])
}

// NewConsensus builds a consensus engine seeded with a genesis
// configuration and registers the given plug-in services (spec section
// 9's tagged registration, never an inheritance hierarchy).
func NewConsensus(store storage.Store, p2p *gossip.Protocol, nodeID string, genesis *configuration.StoredConfiguration, blockInterval time.Duration, services ...configuration.Service) (*Consensus, error) {
	if genesis == nil {
		return nil, fmt.Errorf("consensus: genesis configuration must not be nil")
	}

	registry := make(map[uint16]configuration.Service, len(services))
	for _, svc := range services {
		registry[svc.ID()] = svc
	}

	c := &Consensus{
		store:            store,
		p2p:              p2p,
		nodeID:           nodeID,
		validators:       genesis.Validators,
		services:         registry,
		active:           genesis,
		proposals:        make(chan *Proposal, 100),
		blocks:           make(chan *Block, 100),
		quit:             make(chan struct{}),
		timeoutPrevote:   3 * time.Second,
		timeoutPrecommit: 3 * time.Second,
		timeoutCommit:    1 * time.Second,
		blockInterval:    blockInterval,
	}

	if err := c.loadEngineState(context.Background()); err != nil {
		return nil, err
	}

	return c, nil
}

// Start launches the block-apply loop.
func (c *Consensus) Start() error {
	log.Println("consensus: engine started")
	go c.run()
	return nil
}

// Stop halts the block-apply loop.
func (c *Consensus) Stop() error {
	close(c.quit)
	return nil
}

// SetArchiver attaches the off-chain archival sink. Archival is optional
// and best-effort: a nil archiver (the default) simply skips it.
func (c *Consensus) SetArchiver(a *archive.Archiver) {
	c.archiver = a
}

// AddTransaction adds a transaction to the mempool for inclusion in the
// next block this node proposes.
func (c *Consensus) AddTransaction(tx Transaction) {
	c.votingMutex.Lock()
	defer c.votingMutex.Unlock()
	c.mempool = append(c.mempool, tx)
	log.Printf("consensus: added transaction %s to mempool", tx.id())
}

// GetMempool returns a snapshot of the current mempool.
func (c *Consensus) GetMempool() []Transaction {
	c.votingMutex.Lock()
	defer c.votingMutex.Unlock()
	return append([]Transaction{}, c.mempool...)
}

// Propose queues a block proposal for the current round.
func (c *Consensus) Propose(block *Block) error {
	c.proposals <- &Proposal{Block: block, Round: c.round}
	return nil
}

func (c *Consensus) run() {
	ticker := time.NewTicker(c.blockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.startNewHeight()
		case prop := <-c.proposals:
			c.handleProposal(prop)
		case block := <-c.blocks:
			c.handleBlock(block)
		}
	}
}

func (c *Consensus) startNewHeight() {
	c.votingMutex.Lock()
	c.round = 0
	c.step = Propose
	c.votingMutex.Unlock()

	if c.isProposer() {
		block := c.createProposal()
		c.Propose(block)
	}

	go c.startTimeout(Propose, c.timeoutPrevote)
}

func (c *Consensus) isProposer() bool {
	if len(c.validators) == 0 {
		return false
	}
	proposerIndex := (int(c.height) + int(c.round)) % len(c.validators)
	return proposerIndex == c.validatorIndex
}

func (c *Consensus) createProposal() *Block {
	txs := c.GetMempool()

	block := &Block{
		Height:    c.height + 1,
		Round:     c.round,
		Timestamp: time.Now(),
		Txs:       make([][]byte, len(txs)),
		LastHash:  c.getLastBlockHash(),
	}
	for i, tx := range txs {
		txBytes, _ := json.Marshal(tx)
		block.Txs[i] = txBytes
	}

	log.Printf("consensus: created proposal for height %d with %d transactions", block.Height, len(txs))
	return block
}

func (c *Consensus) getLastBlockHash() []byte {
	if c.height == 0 {
		return make([]byte, 32)
	}
	key := []byte(fmt.Sprintf("block-hash/%d", c.height))
	hash, _ := c.store.Get(context.Background(), key)
	if hash == nil {
		return make([]byte, 32)
	}
	return hash
}

func (c *Consensus) startTimeout(step Step, duration time.Duration) {
	time.Sleep(duration)

	c.votingMutex.Lock()
	sameStep := c.step == step
	c.votingMutex.Unlock()

	if sameStep {
		c.advanceToNextStep()
	}
}

func (c *Consensus) handleProposal(proposal *Proposal) {
	if proposal.Block.Height != c.height+1 || proposal.Block.Round != c.round {
		log.Printf("consensus: rejecting proposal for height %d round %d", proposal.Block.Height, proposal.Block.Round)
		return
	}
	c.blocks <- proposal.Block
}

// handleBlock applies and commits a block. This is the single-threaded
// block-apply loop spec section 5 requires: every transaction handler
// runs to completion before the next begins, the view is committed or
// discarded as one unit, and the commit hooks run once afterward.
func (c *Consensus) handleBlock(block *Block) {
	ctx := context.Background()
	view := storage.NewView(c.store)

	for _, raw := range block.Txs {
		var tx Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			log.Printf("consensus: dropping malformed transaction: %v", err)
			continue
		}
		if err := c.dispatch(ctx, view, tx); err != nil {
			if configuration.IsAdmissionError(err) {
				log.Printf("consensus: transaction rejected: %v", err)
				continue
			}
			log.Printf("consensus: fatal error applying transaction, aborting block: %v", err)
			view.Discard()
			return
		}
	}

	if err := view.Commit(ctx); err != nil {
		log.Printf("consensus: fatal error committing block %d: %v", block.Height, err)
		return
	}

	c.height = block.Height
	metrics.BlocksCommitted.Inc()
	metrics.CurrentHeight.Set(float64(c.height))
	if err := c.persistEngineState(ctx); err != nil {
		log.Printf("consensus: failed to persist engine state: %v", err)
	}

	prevActiveHash, _ := c.active.Hash()

	for _, svc := range c.services {
		hook := svc.CommitHook()
		if hook == nil {
			continue
		}
		if err := hook(c, c.height); err != nil {
			log.Printf("consensus: commit hook for service %d failed: %v", svc.ID(), err)
		}
	}

	if err := c.persistEngineState(ctx); err != nil {
		log.Printf("consensus: failed to persist engine state after activation: %v", err)
	}

	if newHash, err := c.active.Hash(); err == nil && newHash != prevActiveHash {
		c.archiveActivation(newHash, c.height)
	}

	blockBytes, _ := json.Marshal(block)
	c.store.Set(ctx, []byte(fmt.Sprintf("block/%d", block.Height)), blockBytes)
	c.store.Set(ctx, []byte(fmt.Sprintf("block-hash/%d", block.Height)), block.Hash())

	c.votingMutex.Lock()
	c.mempool = nil
	c.votingMutex.Unlock()

	log.Printf("consensus: committed block at height %d", block.Height)
}

// archiveActivation fires the off-chain archival write for a
// newly-activated configuration. It runs in its own goroutine: a slow
// or failing object store must never stall the block-apply loop.
func (c *Consensus) archiveActivation(hash crypto.Hash, height uint64) {
	if c.archiver == nil {
		return
	}
	cfg := c.active
	go func() {
		if err := c.archiver.Store(context.Background(), hash, height, cfg); err != nil {
			log.Printf("consensus: archival of configuration %s failed: %v", hash, err)
		}
	}()
}

func (c *Consensus) dispatch(ctx context.Context, view *storage.View, tx Transaction) error {
	svc, ok := c.services[tx.ServiceID]
	if !ok {
		return fmt.Errorf("consensus: no service registered for id %d", tx.ServiceID)
	}
	handler, ok := svc.TxHandlers()[tx.Tag]
	if !ok {
		return fmt.Errorf("consensus: service %d has no handler for tag %d", tx.ServiceID, tx.Tag)
	}
	return handler(ctx, view, c, tx.Payload)
}

func (c *Consensus) advanceToNextStep() {
	c.votingMutex.Lock()
	defer c.votingMutex.Unlock()

	switch c.step {
	case Propose:
		c.step = Prevote
		go c.startTimeout(Prevote, c.timeoutPrevote)
	case Prevote:
		c.step = Precommit
		go c.startTimeout(Precommit, c.timeoutPrecommit)
	case Precommit:
		c.step = Commit
		go c.startTimeout(Commit, c.timeoutCommit)
	case Commit:
		go c.startNewHeight()
	}
}

// --- configuration.Engine ---

// CurrentHeight implements configuration.Engine. It reports the
// last-committed height: the block currently being applied has not
// committed yet, so its own transactions see the height as it stood
// before this block.
func (c *Consensus) CurrentHeight() uint64 { return c.height }

// ActiveConfig implements configuration.Engine.
func (c *Consensus) ActiveConfig() *configuration.StoredConfiguration { return c.active }

// FollowingConfig implements configuration.Engine.
func (c *Consensus) FollowingConfig() *configuration.StoredConfiguration { return c.following }

// ScheduleFollowing implements configuration.Engine.
func (c *Consensus) ScheduleFollowing(cfg *configuration.StoredConfiguration) error {
	if c.following != nil {
		return nil
	}
	c.following = cfg
	c.validators = cfg.Validators
	return nil
}

// ActivateFollowing implements configuration.Engine.
func (c *Consensus) ActivateFollowing() error {
	if c.following == nil {
		return fmt.Errorf("consensus: no following configuration to activate")
	}
	c.active = c.following
	c.following = nil
	c.validators = c.active.Validators
	return nil
}

const (
	engineActiveKey    = "engine/active"
	engineFollowingKey = "engine/following"
)

func (c *Consensus) loadEngineState(ctx context.Context) error {
	if raw, err := c.store.Get(ctx, []byte(engineActiveKey)); err != nil {
		return fmt.Errorf("load active configuration: %w", err)
	} else if raw != nil {
		var cfg configuration.StoredConfiguration
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("decode persisted active configuration: %w", err)
		}
		c.active = &cfg
		c.validators = cfg.Validators
	}

	if raw, err := c.store.Get(ctx, []byte(engineFollowingKey)); err != nil {
		return fmt.Errorf("load following configuration: %w", err)
	} else if raw != nil {
		var cfg configuration.StoredConfiguration
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("decode persisted following configuration: %w", err)
		}
		c.following = &cfg
	}

	if raw, err := c.store.Get(ctx, []byte("engine/height")); err != nil {
		return fmt.Errorf("load height: %w", err)
	} else if raw != nil {
		c.height = binary.BigEndian.Uint64(raw)
	}

	return nil
}

func (c *Consensus) persistEngineState(ctx context.Context) error {
	activeBytes, err := json.Marshal(c.active)
	if err != nil {
		return fmt.Errorf("encode active configuration: %w", err)
	}
	if err := c.store.Set(ctx, []byte(engineActiveKey), activeBytes); err != nil {
		return err
	}

	if c.following == nil {
		if err := c.store.Delete(ctx, []byte(engineFollowingKey)); err != nil {
			return err
		}
	} else {
		followingBytes, err := json.Marshal(c.following)
		if err != nil {
			return fmt.Errorf("encode following configuration: %w", err)
		}
		if err := c.store.Set(ctx, []byte(engineFollowingKey), followingBytes); err != nil {
			return err
		}
	}

	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, c.height)
	return c.store.Set(ctx, []byte("engine/height"), heightBytes)
}

// Block represents a block in the chain.
type Block struct {
	Height    uint64
	Round     int32
	Timestamp time.Time
	Txs       [][]byte
	LastHash  []byte
}

// Hash returns the content hash of the block.
func (b *Block) Hash() []byte {
	h := sha256.New()
	binary.Write(h, binary.BigEndian, b.Height)
	binary.Write(h, binary.BigEndian, b.Round)
	h.Write(b.LastHash)
	for _, tx := range b.Txs {
		h.Write(tx)
	}
	return h.Sum(nil)
}

// Proposal represents a block proposal for a round.
type Proposal struct {
	Block *Block
	Round int32
}
