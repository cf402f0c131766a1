package bootloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/account"
	"github.com/mezonai/mmn-aa/events"
	"github.com/mezonai/mmn-aa/exception"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/monitoring"
	"github.com/mezonai/mmn-aa/store"
	"github.com/mezonai/mmn-aa/stringutil"
	"github.com/mezonai/mmn-aa/telemetry"
	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm"
	"github.com/mezonai/mmn-aa/vm/system"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SystemGas is the budget of the bootloader's own system calls
const SystemGas uint64 = 1_000_000

var (
	ErrUnknownAccount       = errors.New("sender is not a smart account")
	ErrAlreadyProcessed     = errors.New("transaction was already processed")
	ErrPaymasterUnsupported = errors.New("paymaster flow is not supported")
)

type Config struct {
	InflightTTL   time.Duration
	SweepInterval time.Duration
}

// Sink is the contract installed at the bootloader address. It only
// collects fees.
type Sink struct{}

func (Sink) Run(f *vm.Frame, input []byte) ([]byte, error) {
	if len(input) != 0 {
		return nil, vm.ErrUnexpectedCalldata
	}
	return nil, nil
}

// Bootloader drives every account transaction through validation, payment
// and execution and commits the outcome. Transactions are processed one at
// a time.
type Bootloader struct {
	// guards every use of the machine, views included
	mu       sync.Mutex
	machine  *vm.Machine
	sys      account.SystemAddresses
	receipts store.ReceiptStore
	bus      *events.EventBus
	tracker  *Tracker
	cfg      Config
	now      func() time.Time
}

func New(machine *vm.Machine, sys account.SystemAddresses, receipts store.ReceiptStore, bus *events.EventBus, cfg Config) *Bootloader {
	return &Bootloader{
		machine:  machine,
		sys:      sys,
		receipts: receipts,
		bus:      bus,
		tracker:  NewTracker(cfg.InflightTTL),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (b *Bootloader) Tracker() *Tracker {
	return b.tracker
}

// Start runs the in-flight sweeper until ctx is done
func (b *Bootloader) Start(ctx context.Context) {
	exception.SafeGo("InflightSweeper", func() {
		b.tracker.Run(ctx, b.cfg.SweepInterval)
	})
}

func (b *Bootloader) accountAt(addr common.Address) (*account.Account, error) {
	acc, ok := b.machine.ContractAt(addr).(*account.Account)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	return acc, nil
}

// Submit processes tx and returns its receipt. Failures of the transaction
// itself are reported in the receipt; the error is reserved for
// transactions that could not be processed at all.
func (b *Bootloader) Submit(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	monitoring.IncreaseIngressTxCount()
	if tx == nil {
		monitoring.RecordRejectedTx(monitoring.TxInvalidType)
		return nil, fmt.Errorf("%w: nil transaction", types.ErrInvalidTxType)
	}
	if err := tx.CheckWellFormed(); err != nil {
		monitoring.RecordRejectedTx(monitoring.TxInvalidType)
		return nil, err
	}
	acc, err := b.accountAt(tx.From)
	if err != nil {
		monitoring.RecordRejectedTx(monitoring.TxRejectedUnknown)
		return nil, err
	}

	chainID := b.machine.ChainID()
	txHash := tx.Hash(chainID)
	if err := b.checkProcessed(txHash); err != nil {
		return nil, err
	}
	if _, err := b.tracker.Begin(txHash, tx); err != nil {
		monitoring.RecordRejectedTx(monitoring.TxDuplicated)
		return nil, err
	}
	defer b.tracker.Finish(txHash)

	b.mu.Lock()
	defer b.mu.Unlock()

	// an earlier submission of the same hash may have finished between the
	// first lookup and Begin
	if err := b.checkProcessed(txHash); err != nil {
		return nil, err
	}

	start := b.now()
	ctx, span := telemetry.Tracer("bootloader").Start(ctx, "bootloader.submit", trace.WithAttributes(
		attribute.String("tx.hash", txHash.Hex()),
		attribute.String("tx.account", tx.From.Hex()),
		attribute.String("tx.nonce", types.U256(tx.Nonce).Dec()),
	))
	defer span.End()

	run := &txRun{
		b:       b,
		acc:     acc,
		tx:      tx,
		txHash:  txHash,
		signed:  tx.EncodeHash(chainID),
		receipt: types.NewReceipt(txHash, tx, uint64(start.Unix())),
	}
	run.process(ctx)

	logs, err := b.machine.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("commit %s: %w", txHash.Hex(), err)
	}
	if err := b.receipts.Store(run.receipt); err != nil {
		return nil, fmt.Errorf("store receipt %s: %w", txHash.Hex(), err)
	}

	for _, ev := range run.events {
		b.publish(ctx, ev)
	}
	for _, l := range logs {
		b.publish(ctx, events.NewContractLog(txHash, tx.From, l.Address, l.Name, l.Fields))
	}

	span.SetAttributes(attribute.String("tx.phase", run.receipt.Phase.String()))
	if run.receipt.Error != "" {
		span.SetStatus(codes.Error, run.receipt.Error)
	}
	monitoring.RecordProcessingTime(b.now().Sub(start))
	logx.Info("BOOTLOADER", fmt.Sprintf("Transaction %s from %s finished in phase %s",
		stringutil.ShortHash(txHash), stringutil.ShortAddr(tx.From), run.receipt.Phase))
	return run.receipt, nil
}

// checkProcessed refuses a hash whose stored receipt got past validation
func (b *Bootloader) checkProcessed(txHash common.Hash) error {
	prev, err := b.receipts.GetByHash(txHash)
	if err != nil {
		return err
	}
	if prev != nil && prev.Phase != types.PhaseValidationFailed {
		monitoring.RecordRejectedTx(monitoring.TxDuplicated)
		return fmt.Errorf("%w: %s is %s", ErrAlreadyProcessed, txHash.Hex(), prev.Phase)
	}
	return nil
}

// ExecuteFromOutside relays an owner-signed transaction on behalf of
// relayer. Nothing is committed when it fails.
func (b *Bootloader) ExecuteFromOutside(ctx context.Context, relayer common.Address, tx *types.Transaction) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", types.ErrInvalidTxType)
	}
	acc, err := b.accountAt(tx.From)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, span := telemetry.Tracer("bootloader").Start(ctx, "bootloader.execute_from_outside", trace.WithAttributes(
		attribute.String("tx.account", tx.From.Hex()),
		attribute.String("relayer", relayer.Hex()),
	))
	defer span.End()

	txHash := tx.Hash(b.machine.ChainID())
	var out []byte
	err = b.machine.Atomic(func() error {
		if err := b.markFactoryDeps(ctx, tx); err != nil {
			return err
		}
		var execErr error
		out, execErr = acc.ExecuteTransactionFromOutside(ctx, relayer, tx)
		return execErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		monitoring.RecordRejectedTx(RejectReason(err))
		return nil, err
	}
	logs, err := b.machine.Commit()
	if err != nil {
		return nil, err
	}
	b.publish(ctx, events.NewTransactionExecuted(txHash, tx.From, out))
	for _, l := range logs {
		b.publish(ctx, events.NewContractLog(txHash, tx.From, l.Address, l.Name, l.Fields))
	}
	return out, nil
}

// TransferOwnership changes the owner of a deployed account on behalf of caller
func (b *Bootloader) TransferOwnership(addr, caller, newOwner common.Address) error {
	acc, err := b.accountAt(addr)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	previous, err := acc.TransferOwnership(caller, newOwner)
	if err != nil {
		return err
	}
	if _, err := b.machine.Commit(); err != nil {
		return err
	}
	b.publish(context.Background(), events.NewOwnershipTransferred(addr, previous, newOwner))
	return nil
}

// UpdateNonceOrdering switches the nonce mode of a deployed account on behalf of caller
func (b *Bootloader) UpdateNonceOrdering(ctx context.Context, addr, caller common.Address, ordering types.NonceOrdering) error {
	acc, err := b.accountAt(addr)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.machine.Snapshot()
	if err := acc.UpdateNonceOrdering(ctx, caller, ordering); err != nil {
		if rerr := b.machine.RevertToSnapshot(snap); rerr != nil {
			logx.Error("BOOTLOADER", "revert failed:", rerr.Error())
		}
		return err
	}
	_, err = b.machine.Commit()
	return err
}

// Receipt returns the stored receipt of txHash, or nil
func (b *Bootloader) Receipt(txHash common.Hash) (*types.Receipt, error) {
	return b.receipts.GetByHash(txHash)
}

// Receipts lists the stored receipts of an account
func (b *Bootloader) Receipts(addr common.Address) ([]*types.Receipt, error) {
	return b.receipts.ListByAccount(addr)
}

// Account returns the committed view of addr
func (b *Bootloader) Account(ctx context.Context, addr common.Address) (*types.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	view := &types.Account{
		Address: addr,
		Balance: b.machine.Balance(addr),
	}
	if acc, ok := b.machine.ContractAt(addr).(*account.Account); ok {
		view.IsSmart = true
		view.Owner = acc.Owner()
	}

	minNonce, err := b.viewUint256(ctx, addr, system.PackGetMinNonce, "getMinNonce")
	if err != nil {
		return nil, err
	}
	input, err := system.PackGetNonceOrdering(addr)
	if err != nil {
		return nil, err
	}
	out, err := b.machine.View(ctx, addr, b.sys.NonceHolder, input, SystemGas)
	if err != nil {
		return nil, err
	}
	ordering, err := system.UnpackNonceOrdering(out)
	if err != nil {
		return nil, err
	}
	view.MinNonce = minNonce
	view.NonceOrdering = ordering.String()
	return view, nil
}

// IsNonceUsed reports whether the registry has consumed nonce for addr
func (b *Bootloader) IsNonceUsed(ctx context.Context, addr common.Address, nonce *uint256.Int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	input, err := system.PackIsNonceUsed(addr, nonce)
	if err != nil {
		return false, err
	}
	out, err := b.machine.View(ctx, addr, b.sys.NonceHolder, input, SystemGas)
	if err != nil {
		return false, err
	}
	return system.UnpackBool(system.NonceHolderABI, "isNonceUsed", out)
}

func (b *Bootloader) viewUint256(ctx context.Context, addr common.Address, pack func(common.Address) ([]byte, error), method string) (*uint256.Int, error) {
	input, err := pack(addr)
	if err != nil {
		return nil, err
	}
	out, err := b.machine.View(ctx, addr, b.sys.NonceHolder, input, SystemGas)
	if err != nil {
		return nil, err
	}
	return system.UnpackUint256(system.NonceHolderABI, method, out)
}

func (b *Bootloader) publish(ctx context.Context, ev events.AccountEvent) {
	if b.bus != nil {
		b.bus.Publish(events.Traced(ctx, ev))
	}
}
