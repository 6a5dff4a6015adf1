// Command tx-submitter is a thin client that signs a transfer with a
// local validator/user identity and pushes it to a running empower1d
// node over the gossip overlay's client handshake, the same path an
// inbound peer's gossip_tx takes once admitted.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/empower1/empower1/internal/cryptoid"
	"github.com/empower1/empower1/internal/ledger"
	"github.com/empower1/empower1/internal/p2p"
)

func main() {
	var (
		target    = flag.String("target", "127.0.0.1:26656", "address of the node to submit the transaction to")
		keyDir    = flag.String("key-dir", "./tx-submitter-keys", "directory holding (or to generate) this submitter's identity")
		recipient = flag.String("to", "", "recipient address")
		amount    = flag.Uint64("amount", 0, "transfer amount in smallest units")
		fee       = flag.Uint64("fee", 0, "fee in smallest units")
		nonce     = flag.Uint64("nonce", 0, "sender's next nonce, queried out of band since this repo exposes no nonce-lookup endpoint")
		chainID   = flag.String("chain-id", "ouroboros-mainnet-1", "chain id the target node is configured with")
		useTLS    = flag.Bool("tls", false, "use TLS for the outbound connection")
	)
	flag.Parse()

	if *recipient == "" {
		fmt.Fprintln(os.Stderr, "tx-submitter: -to is required")
		os.Exit(1)
	}

	if err := run(*target, *keyDir, *recipient, *amount, *fee, *nonce, *chainID, *useTLS); err != nil {
		fmt.Fprintf(os.Stderr, "tx-submitter: %v\n", err)
		os.Exit(1)
	}
}

func run(target, keyDir, recipient string, amount, fee, nonce uint64, chainID string, useTLS bool) error {
	identity, err := loadOrGenerateIdentity(keyDir)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	tx := &ledger.Transaction{
		ID:            uuid.New(),
		SenderAddr:    hex.EncodeToString(identity.EdPub),
		RecipientAddr: recipient,
		Amount:        amount,
		Fee:           fee,
		Nonce:         nonce,
		ChainID:       chainID,
	}
	if err := tx.Sign(identity); err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	tx.TxHash = hex.EncodeToString(tx.Signature)

	conn, err := p2p.Dial(target, p2p.TransportConfig{UseTLS: useTLS})
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	selfNodeID := hex.EncodeToString(identity.EdPub)
	if _, _, err := p2p.ClientHandshake(conn, selfNodeID, identity.EdPub, identity.EdPrivateKey(), "light"); err != nil {
		return fmt.Errorf("handshake with %s: %w", target, err)
	}

	env, err := p2p.NewEnvelope(p2p.MsgGossipTx, tx)
	if err != nil {
		return fmt.Errorf("build gossip_tx envelope: %w", err)
	}
	if err := p2p.WriteFrame(conn, env); err != nil {
		return fmt.Errorf("send gossip_tx: %w", err)
	}

	fmt.Printf("submitted tx_id=%s tx_hash=%s\n", tx.ID, tx.TxHash)
	return nil
}

func loadOrGenerateIdentity(keyDir string) (*cryptoid.Identity, error) {
	if id, err := cryptoid.LoadFromDir(keyDir); err == nil {
		return id, nil
	}
	id, err := cryptoid.GenerateIdentity(false)
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
