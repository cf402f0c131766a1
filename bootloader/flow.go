package bootloader

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mezonai/mmn-aa/account"
	"github.com/mezonai/mmn-aa/events"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/monitoring"
	"github.com/mezonai/mmn-aa/stringutil"
	"github.com/mezonai/mmn-aa/telemetry"
	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm"
	"github.com/mezonai/mmn-aa/vm/system"
	"go.opentelemetry.io/otel/codes"
)

// txRun is the state of one transaction moving through the phases
type txRun struct {
	b       *Bootloader
	acc     *account.Account
	tx      *types.Transaction
	txHash  common.Hash
	signed  common.Hash
	receipt *types.Receipt
	events  []events.AccountEvent
}

// process runs validation, payment and execution. A failed validation
// leaves no trace; after that every completed step stays committed.
func (r *txRun) process(ctx context.Context) {
	b := r.b
	monitoring.RecordPhase(r.receipt.Phase.String())
	snap := b.machine.Snapshot()

	r.advance(types.PhaseValidating)
	var magic types.Magic
	err := r.step(ctx, "validate", func(ctx context.Context) error {
		if err := r.b.markFactoryDeps(ctx, r.tx); err != nil {
			return err
		}
		var err error
		magic, err = r.acc.ValidateTransaction(ctx, b.sys.Bootloader, r.txHash, r.signed, r.tx)
		return err
	})
	if err != nil {
		r.revert(snap)
		r.fail(types.PhaseValidationFailed, err)
		return
	}
	r.receipt.Magic = magic
	if !magic.IsSuccess() {
		r.revert(snap)
		r.advance(types.PhaseValidationFailed)
		r.receipt.Error = account.ErrInvalidSignature.Error()
		monitoring.RecordRejectedTx(monitoring.TxInvalidSignature)
		r.events = append(r.events, events.NewTransactionRejected(r.txHash, r.tx.From, magic))
		return
	}
	r.advance(types.PhaseValidationSucceeded)
	r.events = append(r.events, events.NewTransactionValidated(r.txHash, r.tx))

	if r.tx.HasPaymaster() {
		err := r.step(ctx, "prepare_for_paymaster", func(ctx context.Context) error {
			if err := r.acc.PrepareForPaymaster(ctx, b.sys.Bootloader, r.txHash, r.signed, r.tx); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrPaymasterUnsupported, r.tx.Paymaster.Hex())
		})
		r.fail(types.PhasePaymentFailed, err)
		return
	}

	r.advance(types.PhasePaying)
	err = r.step(ctx, "pay", func(ctx context.Context) error {
		fee, err := r.acc.PayForTransaction(ctx, b.sys.Bootloader, r.txHash, r.signed, r.tx)
		if err != nil {
			return err
		}
		r.receipt.FeePaid = fee
		return nil
	})
	if err != nil {
		r.fail(types.PhasePaymentFailed, err)
		return
	}
	r.advance(types.PhasePaid)
	monitoring.AddFeePaid(r.receipt.FeePaid.Float64())
	r.events = append(r.events, events.NewTransactionPaid(r.txHash, r.tx.From, r.receipt.FeePaid))

	r.advance(types.PhaseExecuting)
	var out []byte
	err = r.step(ctx, "execute", func(ctx context.Context) error {
		var err error
		out, err = r.acc.ExecuteTransaction(ctx, b.sys.Bootloader, r.txHash, r.signed, r.tx)
		return err
	})
	if err != nil {
		r.fail(types.PhaseExecutionFailed, err)
		return
	}
	r.advance(types.PhaseExecuted)
	r.events = append(r.events, events.NewTransactionExecuted(r.txHash, r.tx.From, out))
}

// markFactoryDeps publishes the transaction's bytecode hashes to KnownCodes
func (b *Bootloader) markFactoryDeps(ctx context.Context, tx *types.Transaction) error {
	if len(tx.FactoryDeps) == 0 {
		return nil
	}
	input, err := system.PackMarkFactoryDeps(tx.FactoryDeps)
	if err != nil {
		return err
	}
	_, _, err = b.machine.SystemCall(ctx, b.sys.Bootloader, system.KnownCodesAddress, nil, input, SystemGas)
	if err != nil {
		return fmt.Errorf("mark factory deps: %w", err)
	}
	return nil
}

func (r *txRun) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer("bootloader").Start(ctx, "bootloader."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *txRun) advance(next types.Phase) {
	if !r.receipt.Phase.CanTransition(next) {
		logx.Error("BOOTLOADER", fmt.Sprintf("illegal phase transition %s -> %s for %s", r.receipt.Phase, next, stringutil.ShortHash(r.txHash)))
		return
	}
	r.receipt.Phase = next
	r.b.tracker.SetPhase(r.txHash, next)
	monitoring.RecordPhase(next.String())
}

func (r *txRun) fail(phase types.Phase, err error) {
	r.advance(phase)
	r.receipt.Error = err.Error()
	monitoring.RecordRejectedTx(RejectReason(err))
	r.events = append(r.events, events.NewTransactionFailed(r.txHash, r.tx.From, phase, err.Error()))
	logx.Warn("BOOTLOADER", fmt.Sprintf("Transaction %s failed in phase %s: %v", stringutil.ShortHash(r.txHash), phase, err))
}

func (r *txRun) revert(snap vm.Snapshot) {
	if err := r.b.machine.RevertToSnapshot(snap); err != nil {
		logx.Error("BOOTLOADER", "revert failed:", err.Error())
	}
}
