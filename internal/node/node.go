// Package node wires every other package in this module into one
// running validator or relay process, the root component named in
// spec.md §9's design-notes resolution for "process-wide singletons":
// constructed once by each cmd/empower1d subcommand that runs it and
// passed by reference into every collaborator, rather than any package
// reaching for a global.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/empower1/empower1/internal/anchor"
	"github.com/empower1/empower1/internal/bft"
	"github.com/empower1/empower1/internal/config"
	"github.com/empower1/empower1/internal/cryptoid"
	"github.com/empower1/empower1/internal/errclass"
	"github.com/empower1/empower1/internal/fees"
	"github.com/empower1/empower1/internal/ledger"
	"github.com/empower1/empower1/internal/mempool"
	"github.com/empower1/empower1/internal/p2p"
	"github.com/empower1/empower1/internal/secevents"
	"github.com/empower1/empower1/internal/storage"
	"github.com/empower1/empower1/internal/vm"
)

const (
	ksBlock = "block"
	ksOuro  = "ouro"

	heightCounterKey = "height"

	// mempoolCapacity and mempoolPullLimit are literal defaults from
	// spec.md §4.1/§4.4 (200 transactions pulled per proposal) absent
	// a dedicated flag for either.
	mempoolCapacity = 50_000
	mempoolPullLimit = 200

	bftTimeoutMS = 4_000

	minAnchorBondUnits = 1_000 * 100_000_000

	treasuryAddress = "treasury"
)

// Node is the root component. Every field is a concrete collaborator
// rather than an interface, except where bft requires one to break a
// cyclic reference (bft.Broadcaster/Finalizer/Registry/SlashingSink,
// all implemented by Node or by p2p.GossipBroadcaster).
type Node struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *storage.Store
	identity *cryptoid.Identity

	ledger      *ledger.Ledger
	mempool     *mempool.Mempool
	batchWriter *mempool.BatchWriter
	vmEngine    *vm.Engine
	anchorMgr   *anchor.Manager
	fees        *fees.Processor

	p2pServer    *p2p.Server
	broadcaster  *p2p.GossipBroadcaster
	bftEngine    *bft.Engine

	secSink secevents.Sink

	validatorsMu sync.RWMutex
	validators   map[string]bft.Validator
}

// NewNode opens storage, loads or generates the validator identity,
// and constructs every collaborator. It does not start any background
// loop; call Start for that.
func NewNode(cfg *config.Config, logger *zap.Logger, dataDir string) (*Node, error) {
	store, err := storage.Open(dataDir + "/empower1.db")
	if err != nil {
		return nil, fmt.Errorf("node: open storage: %w", err)
	}

	identity, err := loadOrGenerateIdentity(dataDir+"/keys", cfg.EnablePQCrypto)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: identity: %w", err)
	}

	l := ledger.New(store)
	if err := l.InitGenesis(treasuryAddress, "vesting"); err != nil && err != ledger.ErrAlreadyInitialized {
		store.Close()
		return nil, fmt.Errorf("node: genesis: %w", err)
	}

	n := &Node{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		identity:    identity,
		ledger:      l,
		mempool:     mempool.New(mempoolCapacity, logger.Named("mempool")),
		batchWriter: mempool.NewBatchWriter(store, logger.Named("mempool")),
		vmEngine:    vm.NewEngine(store, logger.Named("vm")),
		anchorMgr:   anchor.NewManager(store, l, minAnchorBondUnits),
		fees:        fees.NewProcessor(l, treasuryAddress),
		secSink:     secevents.Default,
		validators:  make(map[string]bft.Validator),
	}

	selfID := hex.EncodeToString(identity.EdPub)
	n.registerValidator(bft.Validator{
		ValidatorID: selfID,
		EdPublicKey: [32]byte(identity.EdPub),
		Stake:       1,
		Status:      bft.StatusActive,
	})

	p2pCfg := p2p.Config{
		SelfNodeID:           selfID,
		SelfPub:              identity.EdPub,
		SelfPriv:             identity.EdPrivateKey(),
		Role:                 string(cfg.Role),
		ListenAddr:           cfg.ListenAddr,
		AuthorizedPeers:      cfg.AuthorizedPeers,
		BootstrapPeers:       cfg.BootstrapPeers,
		PeerStorePath:        dataDir + "/peers.json",
		MaxMessagesPerWindow: cfg.RateLimit.MaxRequests,
		RateWindowSecs:       cfg.RateLimit.WindowSecs,
		MaxConnectionsPerIP:  8,
	}
	n.p2pServer = p2p.NewServer(p2pCfg, logger.Named("p2p"))
	n.p2pServer.OnMessage = n.handleGossipMessage
	n.p2pServer.OnPeerConnected = n.handlePeerConnected
	n.broadcaster = p2p.NewGossipBroadcaster(n.p2pServer)

	if cfg.Role == config.RoleHeavy {
		n.bftEngine = bft.NewEngine(bft.Config{
			SelfID:      selfID,
			Peers:       cfg.AuthorizedPeers,
			TimeoutMS:   bftTimeoutMS,
			Identity:    identity,
			Migration:   cryptoid.CurrentPhase(0),
			MempoolPull: mempoolPullLimit,
		}, n, n.mempool, n.broadcaster, n, n, logger.Named("bft"))
	}

	return n, nil
}

func loadOrGenerateIdentity(keyDir string, withPQ bool) (*cryptoid.Identity, error) {
	if id, err := cryptoid.LoadFromDir(keyDir); err == nil {
		return id, nil
	}
	id, err := cryptoid.GenerateIdentity(withPQ)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := id.SaveToDir(keyDir); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	return id, nil
}

// Start launches every background loop, in the dependency order each
// depends on: storage is already open, so the batch writer, the
// gossip server, and (for heavy nodes) the consensus engine start.
func (n *Node) Start(ctx context.Context) error {
	n.batchWriter.Start(ctx)
	if err := n.p2pServer.Start(ctx); err != nil {
		return fmt.Errorf("node: start p2p: %w", err)
	}
	if n.bftEngine != nil {
		if err := n.bftEngine.Start(ctx); err != nil {
			return fmt.Errorf("node: start bft: %w", err)
		}
	}
	n.logger.Info("node: started", zap.String("role", string(n.cfg.Role)), zap.String("listen_addr", n.cfg.ListenAddr))
	return nil
}

// Stop shuts every component down in reverse order, draining buffered
// work before closing storage.
func (n *Node) Stop() error {
	if n.bftEngine != nil {
		_ = n.bftEngine.Stop()
	}
	_ = n.p2pServer.Stop()
	n.batchWriter.Stop()
	return n.store.Close()
}

// Height reports the current committed block height.
func (n *Node) Height() (uint64, error) {
	return n.store.Counter(ksBlock, heightCounterKey)
}

// Identity returns this node's validator identity, for CLI subcommands
// that sign on the node's own behalf (e.g. submit-tx).
func (n *Node) Identity() *cryptoid.Identity { return n.identity }

// Ledger returns the coin ledger, for read-only CLI subcommands.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// VM returns the contract execution engine, for the deploy-contract
// CLI subcommand.
func (n *Node) VM() *vm.Engine { return n.vmEngine }

func (n *Node) registerValidator(v bft.Validator) {
	n.validatorsMu.Lock()
	n.validators[v.ValidatorID] = v
	n.validatorsMu.Unlock()
}

// Validator implements bft.Registry.
func (n *Node) Validator(id string) (bft.Validator, bool) {
	n.validatorsMu.RLock()
	defer n.validatorsMu.RUnlock()
	v, ok := n.validators[id]
	return v, ok
}

// activeValidatorAddresses lists the validator ids currently in
// StatusActive, the fee processor's recipient set for the validator
// reward bucket.
func (n *Node) activeValidatorAddresses() []string {
	n.validatorsMu.RLock()
	defer n.validatorsMu.RUnlock()
	out := make([]string, 0, len(n.validators))
	for id, v := range n.validators {
		if v.Status == bft.StatusActive {
			out = append(out, id)
		}
	}
	return out
}

// handlePeerConnected registers a just-handshaked peer's Ed25519
// public key with the validator registry when it identifies as a
// heavy (consensus-participating) role, so bft.Engine's signature
// checks recognize it without a separate validator-set gossip message.
func (n *Node) handlePeerConnected(p *p2p.Peer) {
	if p.Info.Role != string(config.RoleHeavy) {
		return
	}
	pub, err := hex.DecodeString(p.Info.PubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		n.logger.Warn("node: peer advertised malformed pubkey, not registering as validator",
			zap.String("peer", p.Info.NodeID))
		return
	}
	n.registerValidator(bft.Validator{
		ValidatorID: p.Info.NodeID,
		EdPublicKey: [32]byte(pub),
		Stake:       1,
		Status:      bft.StatusActive,
	})
}

// handleGossipMessage dispatches one post-handshake envelope: consensus
// control messages go to bft.Engine, gossip_tx admits a transaction
// into the mempool.
func (n *Node) handleGossipMessage(peer *p2p.Peer, env *p2p.Envelope) {
	switch env.Typ {
	case p2p.MsgProposal, p2p.MsgVote, p2p.MsgQC:
		if n.bftEngine == nil {
			return
		}
		if err := p2p.DispatchToEngine(n.bftEngine, env); err != nil {
			n.logger.Warn("node: consensus message rejected", zap.String("peer", peer.Info.NodeID), zap.Error(err))
		}
	case p2p.MsgGossipTx:
		if err := n.admitGossipedTx(env); err != nil {
			n.logger.Debug("node: gossiped transaction rejected", zap.String("peer", peer.Info.NodeID), zap.Error(err))
		}
	}
}

func (n *Node) admitGossipedTx(env *p2p.Envelope) error {
	var tx ledger.Transaction
	if err := env.Decode(&tx); err != nil {
		return fmt.Errorf("decode gossip_tx: %w", err)
	}
	return n.SubmitTransaction(&tx)
}

// SubmitTransaction admits tx into the mempool, persists it via the
// batch writer, and re-gossips it to peers. It is the single entry
// point both the local CLI and inbound gossip_tx messages use.
func (n *Node) SubmitTransaction(tx *ledger.Transaction) error {
	height, err := n.Height()
	if err != nil {
		return fmt.Errorf("submit tx: read height: %w", err)
	}
	envelope, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("submit tx: marshal envelope: %w", err)
	}
	ptx, err := n.mempool.Admit(tx, n.cfg.ChainID, height, envelope)
	if err != nil {
		return err
	}
	n.batchWriter.Submit(ptx)

	env, err := p2p.NewEnvelope(p2p.MsgGossipTx, tx)
	if err != nil {
		return fmt.Errorf("submit tx: build gossip envelope: %w", err)
	}
	if err := n.p2pServer.Broadcast(env); err != nil {
		n.logger.Debug("node: gossip_tx broadcast did not reach every peer", zap.Error(err))
	}
	return nil
}

// FinalizeBlock implements bft.Finalizer. It applies every committed
// transaction's transfer, distributes its fee, asserts the global
// supply cap, and advances the committed-height counter, all before
// returning, per spec.md §2's "commit triggers VM execution, fee
// distribution, balance updates, and anchor acceptance" data flow.
//
// Fee distribution here calls fees.Processor.ProcessFee (computation
// only) rather than ExecuteTransfers/ProcessAndExecute: Transfer
// already debited sender by amount+fee, so re-running ExecuteTransfers
// would debit the fee a second time. ProcessFee's allocation is
// applied by crediting each recipient and recording the burn directly.
func (n *Node) FinalizeBlock(blockID uuid.UUID, txIDs []uuid.UUID) error {
	height, err := n.store.IncrCounter(ksBlock, heightCounterKey, 1)
	if err != nil {
		return fmt.Errorf("finalize: advance height: %w", err)
	}

	activeValidators := n.activeValidatorAddresses()

	for _, txID := range txIDs {
		ptx, ok := n.mempool.Get(txID)
		if !ok {
			n.logger.Warn("finalize: committed tx not in mempool, skipping", zap.String("tx_id", txID.String()))
			continue
		}
		var tx ledger.Transaction
		if err := json.Unmarshal(ptx.Envelope, &tx); err != nil {
			n.logger.Error("finalize: corrupt mempool envelope", zap.String("tx_id", txID.String()), zap.Error(err))
			continue
		}

		if err := n.ledger.Transfer(&tx, n.cfg.ChainID, height); err != nil {
			n.logger.Warn("finalize: transfer rejected", zap.String("tx_id", txID.String()), zap.Error(err))
			continue
		}

		if tx.Fee > 0 && len(activeValidators) > 0 {
			result, err := n.fees.ProcessFee(tx.SenderAddr, tx.Fee, activeValidators, "")
			if err != nil {
				n.logger.Error("finalize: fee processing failed", zap.String("tx_id", txID.String()), zap.Error(err))
			} else {
				for _, t := range result.Transfers {
					if err := n.ledger.Credit(t.Address, t.Amount); err != nil {
						n.logger.Error("finalize: fee credit failed", zap.String("recipient", t.Address), zap.Error(err))
					}
				}
				if result.BurnedAmount > 0 {
					if err := n.ledger.RecordBurn(result.BurnedAmount); err != nil {
						n.logger.Error("finalize: record burn failed", zap.Error(err))
					}
				}
			}
		}

		if len(tx.Payload) > 0 {
			n.maybeExecuteContract(tx, height)
		}
	}

	n.mempool.Remove(txIDs)

	if err := n.ledger.AssertSupplyCap(1_000_000); err != nil {
		n.secSink.Record(secevents.Event{
			Source: "ledger", Severity: secevents.SeverityHigh,
			Message: "global supply cap invariant violated at commit",
			Fields:  map[string]any{"block_id": blockID.String(), "height": height},
		})
		return errclass.NewFatal(fmt.Errorf("finalize: %w", err))
	}

	n.logger.Info("finalize: block committed", zap.String("block_id", blockID.String()), zap.Uint64("height", height), zap.Int("tx_count", len(txIDs)))
	return nil
}

// contractCallPayload is the structured payload shape (spec.md §6) a
// transaction carries to invoke a deployed contract.
type contractCallPayload struct {
	ContractAddress string `json:"contract_address"`
	FunctionName    string `json:"function_name"`
	GasLimit        uint64 `json:"gas_limit"`
	Args            []byte `json:"args"`
}

// maybeExecuteContract runs a transaction's payload against the VM
// engine when it decodes as a contract call; a non-contract payload
// (plain memo bytes) is not an error, so decode failures are logged at
// debug level only.
func (n *Node) maybeExecuteContract(tx ledger.Transaction, height uint64) {
	var call contractCallPayload
	if err := json.Unmarshal(tx.Payload, &call); err != nil || call.ContractAddress == "" {
		return
	}
	result, err := n.vmEngine.ExecuteContract(vm.CallContext{
		ContractAddress: call.ContractAddress,
		CallerAddress:   tx.SenderAddr,
		FunctionName:    call.FunctionName,
		GasLimit:        call.GasLimit,
		Value:           tx.Amount,
		BlockHeight:     height,
	}, call.Args)
	if err != nil {
		n.logger.Warn("finalize: contract execution error", zap.String("contract", call.ContractAddress), zap.Error(err))
		return
	}
	if !result.Success {
		n.logger.Info("finalize: contract call failed", zap.String("contract", call.ContractAddress), zap.String("error", result.Error))
	}
}

// SlashValidator implements bft.SlashingSink: it debits the offending
// validator's stake-backing address by the severity's percentage and
// marks it Slashed, per spec.md §7's slashing severities.
func (n *Node) SlashValidator(event bft.SlashingEvent) error {
	n.validatorsMu.Lock()
	v, ok := n.validators[event.Validator]
	if ok {
		v.Status = bft.StatusSlashed
		n.validators[event.Validator] = v
	}
	n.validatorsMu.Unlock()

	n.secSink.Record(secevents.Event{
		Source: "bft", Severity: secevents.SeverityHigh,
		Message: "validator slashed",
		Fields: map[string]any{
			"validator": event.Validator, "reason": string(event.Reason),
			"severity": string(event.Severity), "view": event.View, "evidence": event.Evidence,
		},
	})
	n.logger.Warn("slashing: validator slashed",
		zap.String("validator", event.Validator), zap.String("reason", string(event.Reason)),
		zap.String("severity", string(event.Severity)), zap.Uint64("view", event.View))

	if !ok {
		return nil
	}
	balance, err := n.ledger.Balance(event.Validator)
	if err != nil {
		return fmt.Errorf("slash: read balance: %w", err)
	}
	var pct uint64
	switch event.Severity {
	case errclass.SeverityCritical:
		pct = 100
	default:
		pct = 50
	}
	amount := balance.Balance * pct / 100
	if amount == 0 {
		return nil
	}
	if err := n.ledger.Debit(event.Validator, amount); err != nil {
		return fmt.Errorf("slash: debit stake: %w", err)
	}
	return nil
}
