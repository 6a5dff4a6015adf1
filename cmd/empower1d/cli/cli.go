// Package cli builds empower1d's cobra command tree: binding
// internal/config's flags at the root, and delegating every
// subcommand to a constructed internal/node.Node, mirroring the
// teacher's cmd/empower1d/cli.NewCLI shape.
package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/empower1/empower1/internal/config"
	"github.com/empower1/empower1/internal/ledger"
	"github.com/empower1/empower1/internal/logging"
	"github.com/empower1/empower1/internal/node"
)

// NewRootCommand builds the empower1d command tree.
func NewRootCommand() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:   "empower1d",
		Short: "empower1d runs a layered-ledger validator or relay node",
	}
	cfg := config.BindFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "directory for the node's database, peer store, and key material")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Finalize(); err != nil {
			return err
		}
		return cfg.Validate()
	}

	root.AddCommand(
		newStartCmd(cfg, &dataDir),
		newHeightCmd(cfg, &dataDir),
		newBalanceCmd(cfg, &dataDir),
		newSubmitTxCmd(cfg, &dataDir),
		newDeployContractCmd(cfg, &dataDir),
	)
	return root
}

func newStartCmd(cfg *config.Config, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start the node: gossip server, mempool, and (for heavy nodes) consensus",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Environment(cfg.Environment), "node")
			if err != nil {
				return err
			}
			defer logger.Sync()

			n, err := node.NewNode(cfg, logger, *dataDir)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := n.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			logger.Info("shutting down")
			return n.Stop()
		},
	}
}

func newHeightCmd(cfg *config.Config, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "height",
		Short: "print the current committed block height",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Environment(cfg.Environment), "cli")
			if err != nil {
				return err
			}
			defer logger.Sync()
			n, err := node.NewNode(cfg, logger, *dataDir)
			if err != nil {
				return err
			}
			defer n.Stop()
			height, err := n.Height()
			if err != nil {
				return err
			}
			fmt.Println(height)
			return nil
		},
	}
}

func newBalanceCmd(cfg *config.Config, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "print an address's balance, locked amount, and nonce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Environment(cfg.Environment), "cli")
			if err != nil {
				return err
			}
			defer logger.Sync()
			n, err := node.NewNode(cfg, logger, *dataDir)
			if err != nil {
				return err
			}
			defer n.Stop()
			bal, err := n.Ledger().Balance(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("address=%s balance=%d locked=%d\n", bal.Address, bal.Balance, bal.Locked)
			return nil
		},
	}
}

func newSubmitTxCmd(cfg *config.Config, dataDir *string) *cobra.Command {
	var recipient string
	var amount, fee, nonce uint64

	cmd := &cobra.Command{
		Use:   "submit-tx",
		Short: "sign and submit a transfer from this node's own validator identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Environment(cfg.Environment), "cli")
			if err != nil {
				return err
			}
			defer logger.Sync()
			n, err := node.NewNode(cfg, logger, *dataDir)
			if err != nil {
				return err
			}
			defer n.Stop()

			tx := &ledger.Transaction{
				ID:            uuid.New(),
				SenderAddr:    hex.EncodeToString(n.Identity().EdPub),
				RecipientAddr: recipient,
				Amount:        amount,
				Fee:           fee,
				Nonce:         nonce,
				ChainID:       cfg.ChainID,
			}
			if err := tx.Sign(n.Identity()); err != nil {
				return err
			}
			tx.TxHash = hex.EncodeToString(tx.Signature)

			if err := n.SubmitTransaction(tx); err != nil {
				return err
			}
			fmt.Printf("submitted tx_id=%s\n", tx.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&recipient, "to", "", "recipient address")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "transfer amount in smallest units")
	cmd.Flags().Uint64Var(&fee, "fee", 0, "fee in smallest units")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "sender's next nonce")
	return cmd
}

func newDeployContractCmd(cfg *config.Config, dataDir *string) *cobra.Command {
	var address, wasmPath string

	cmd := &cobra.Command{
		Use:   "deploy-contract",
		Short: "deploy a WASM module under an address, after its admission scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Environment(cfg.Environment), "cli")
			if err != nil {
				return err
			}
			defer logger.Sync()
			n, err := node.NewNode(cfg, logger, *dataDir)
			if err != nil {
				return err
			}
			defer n.Stop()

			code, err := os.ReadFile(wasmPath)
			if err != nil {
				return err
			}
			if err := n.VM().DeployContract(address, code); err != nil {
				return err
			}
			fmt.Printf("deployed contract at %s\n", address)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "contract address to deploy under")
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "path to the compiled WASM module")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("wasm")
	return cmd
}
