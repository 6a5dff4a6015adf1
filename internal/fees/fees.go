// Package fees implements the fee processor of spec.md §4.9, grounded
// nearly verbatim on
// original_source/ouro_dag/src/ouro_coin/fee_processor.rs: a 70/10/10/10
// split with integer-truncation rounding, the developer share merging
// into treasury when unset, atomic debit+credit execution, and
// block-level aggregation to amortize storage writes.
package fees

import (
	"errors"
	"fmt"

	"github.com/empower1/empower1/internal/ledger"
)

// Distribution is the percentage split; the original validates these
// sum to 100 in with_distribution, preserved here as NewDistribution.
type Distribution struct {
	ValidatorsPct    uint64
	BurnPct          uint64
	TreasuryPct      uint64
	AppDeveloperPct  uint64
}

// DefaultDistribution is spec.md §4.9's literal 70/10/10/10 split.
var DefaultDistribution = Distribution{
	ValidatorsPct:   70,
	BurnPct:         10,
	TreasuryPct:     10,
	AppDeveloperPct: 10,
}

var ErrInvalidDistribution = errors.New("fees: distribution percentages must sum to 100")

func NewDistribution(validators, burn, treasury, appDev uint64) (Distribution, error) {
	d := Distribution{ValidatorsPct: validators, BurnPct: burn, TreasuryPct: treasury, AppDeveloperPct: appDev}
	if validators+burn+treasury+appDev != 100 {
		return Distribution{}, ErrInvalidDistribution
	}
	return d, nil
}

// Allocation is the per-category split of one fee amount, before the
// validator bucket is further divided across active validators.
type Allocation struct {
	ValidatorsAmount   uint64
	BurnAmount         uint64
	TreasuryAmount     uint64
	AppDeveloperAmount uint64
}

// Distribute splits fee by percentage with integer truncation; any
// remainder from the four truncations is intentionally left
// unaccounted here (it stays with the payer, per spec.md §4.9) rather
// than added back into any bucket.
func (d Distribution) Distribute(fee uint64) Allocation {
	return Allocation{
		ValidatorsAmount:   fee * d.ValidatorsPct / 100,
		BurnAmount:         fee * d.BurnPct / 100,
		TreasuryAmount:     fee * d.TreasuryPct / 100,
		AppDeveloperAmount: fee * d.AppDeveloperPct / 100,
	}
}

// TransferPurpose tags each credit in a FeeProcessingResult.
type TransferPurpose string

const (
	PurposeValidatorReward TransferPurpose = "validator_reward"
	PurposeTreasury        TransferPurpose = "treasury"
	PurposeAppDeveloper    TransferPurpose = "app_developer"
)

// Transfer is one credit produced by processing a fee.
type Transfer struct {
	Address string
	Amount  uint64
	Purpose TransferPurpose
}

// ProcessingResult is the outcome of splitting one transaction's fee,
// not yet applied to the ledger.
type ProcessingResult struct {
	FeePayer      string
	FeeAmount     uint64
	Transfers     []Transfer
	BurnedAmount  uint64
}

// Processor splits and executes fees against a ledger.Ledger.
type Processor struct {
	distribution    Distribution
	treasuryAddress string
	ledger          *ledger.Ledger
}

func NewProcessor(l *ledger.Ledger, treasuryAddress string) *Processor {
	return &Processor{distribution: DefaultDistribution, treasuryAddress: treasuryAddress, ledger: l}
}

func NewProcessorWithDistribution(l *ledger.Ledger, treasuryAddress string, d Distribution) *Processor {
	return &Processor{distribution: d, treasuryAddress: treasuryAddress, ledger: l}
}

// ProcessFee computes the transfer list for feeAmount without touching
// the ledger. A fee of zero produces an empty transfer list and no
// burn, per spec.md §8's boundary behavior.
func (p *Processor) ProcessFee(feePayer string, feeAmount uint64, validatorAddresses []string, appDeveloperAddress string) (ProcessingResult, error) {
	if feeAmount == 0 {
		return ProcessingResult{FeePayer: feePayer}, nil
	}
	if len(validatorAddresses) == 0 {
		return ProcessingResult{}, fmt.Errorf("fees: no active validators to receive validator share")
	}

	alloc := p.distribution.Distribute(feeAmount)
	validatorShare := alloc.ValidatorsAmount / uint64(len(validatorAddresses))

	var transfers []Transfer
	for _, addr := range validatorAddresses {
		if validatorShare == 0 {
			continue
		}
		transfers = append(transfers, Transfer{Address: addr, Amount: validatorShare, Purpose: PurposeValidatorReward})
	}

	treasuryAmount := alloc.TreasuryAmount
	if appDeveloperAddress == "" {
		// Developer share merges into treasury when no developer is declared.
		treasuryAmount += alloc.AppDeveloperAmount
	} else if alloc.AppDeveloperAmount > 0 {
		transfers = append(transfers, Transfer{Address: appDeveloperAddress, Amount: alloc.AppDeveloperAmount, Purpose: PurposeAppDeveloper})
	}
	if treasuryAmount > 0 {
		transfers = append(transfers, Transfer{Address: p.treasuryAddress, Amount: treasuryAmount, Purpose: PurposeTreasury})
	}

	return ProcessingResult{
		FeePayer:     feePayer,
		FeeAmount:    feeAmount,
		Transfers:    transfers,
		BurnedAmount: alloc.BurnAmount,
	}, nil
}

// ExecuteTransfers applies a ProcessingResult to the ledger in one
// logical step: debit the full fee from the payer (failing if
// insufficient), credit every transfer, and add the burn amount to the
// monotonic total_burned_fees counter.
func (p *Processor) ExecuteTransfers(result ProcessingResult) error {
	if result.FeeAmount == 0 {
		return nil
	}
	if err := p.ledger.Debit(result.FeePayer, result.FeeAmount); err != nil {
		return fmt.Errorf("fees: debit fee payer: %w", err)
	}
	for _, t := range result.Transfers {
		if err := p.ledger.Credit(t.Address, t.Amount); err != nil {
			return fmt.Errorf("fees: credit %s (%s): %w", t.Address, t.Purpose, err)
		}
	}
	if result.BurnedAmount > 0 {
		if err := p.ledger.RecordBurn(result.BurnedAmount); err != nil {
			return fmt.Errorf("fees: record burn: %w", err)
		}
	}
	return nil
}

// ProcessAndExecute computes and applies a single transaction's fee.
func (p *Processor) ProcessAndExecute(feePayer string, feeAmount uint64, validatorAddresses []string, appDeveloperAddress string) (ProcessingResult, error) {
	result, err := p.ProcessFee(feePayer, feeAmount, validatorAddresses, appDeveloperAddress)
	if err != nil {
		return ProcessingResult{}, err
	}
	if err := p.ExecuteTransfers(result); err != nil {
		return ProcessingResult{}, err
	}
	return result, nil
}

// AggregatedFees batches per-block fee processing to amortize storage
// writes: one debit per payer, summed credits per recipient.
type AggregatedFees struct {
	ValidatorTotals map[string]uint64
	DeveloperTotals map[string]uint64
	TreasuryTotal   uint64
	BurnedTotal     uint64
	PayerTotals     map[string]uint64
}

// AggregateFees merges a slice of per-transaction ProcessingResults.
func AggregateFees(results []ProcessingResult) AggregatedFees {
	agg := AggregatedFees{
		ValidatorTotals: map[string]uint64{},
		DeveloperTotals: map[string]uint64{},
		PayerTotals:     map[string]uint64{},
	}
	for _, r := range results {
		agg.PayerTotals[r.FeePayer] += r.FeeAmount
		agg.BurnedTotal += r.BurnedAmount
		for _, t := range r.Transfers {
			switch t.Purpose {
			case PurposeValidatorReward:
				agg.ValidatorTotals[t.Address] += t.Amount
			case PurposeAppDeveloper:
				agg.DeveloperTotals[t.Address] += t.Amount
			case PurposeTreasury:
				agg.TreasuryTotal += t.Amount
			}
		}
	}
	return agg
}

// ExecuteAggregated applies a batch-aggregated result to the ledger:
// one debit per payer and one credit per aggregated recipient.
func (p *Processor) ExecuteAggregated(agg AggregatedFees) error {
	for payer, amount := range agg.PayerTotals {
		if amount == 0 {
			continue
		}
		if err := p.ledger.Debit(payer, amount); err != nil {
			return fmt.Errorf("fees: debit payer %s: %w", payer, err)
		}
	}
	for addr, amount := range agg.ValidatorTotals {
		if err := p.ledger.Credit(addr, amount); err != nil {
			return fmt.Errorf("fees: credit validator %s: %w", addr, err)
		}
	}
	for addr, amount := range agg.DeveloperTotals {
		if err := p.ledger.Credit(addr, amount); err != nil {
			return fmt.Errorf("fees: credit developer %s: %w", addr, err)
		}
	}
	if agg.TreasuryTotal > 0 {
		if err := p.ledger.Credit(p.treasuryAddress, agg.TreasuryTotal); err != nil {
			return fmt.Errorf("fees: credit treasury: %w", err)
		}
	}
	if agg.BurnedTotal > 0 {
		if err := p.ledger.RecordBurn(agg.BurnedTotal); err != nil {
			return fmt.Errorf("fees: record burn: %w", err)
		}
	}
	return nil
}
