package account

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-aa/contracts"
	"github.com/mezonai/mmn-aa/db"
	"github.com/mezonai/mmn-aa/ledger"
	"github.com/mezonai/mmn-aa/store"
	"github.com/mezonai/mmn-aa/types"
	"github.com/mezonai/mmn-aa/vm"
	"github.com/mezonai/mmn-aa/vm/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewGas = 1_000_000

var (
	accountAddr = common.HexToAddress("0x5a5a000000000000000000000000000000000001")
	tokenAddr   = common.HexToAddress("0x70ce000000000000000000000000000000000001")
	oneEther    = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))
	twoPow24    = uint256.NewInt(1 << 24)
)

// sink accepts value transfers, like the bootloader's address
type sink struct{}

func (sink) Run(*vm.Frame, []byte) ([]byte, error) { return nil, nil }

type fixture struct {
	t        *testing.T
	m        *vm.Machine
	acc      *Account
	sys      SystemAddresses
	owner    *ecdsa.PrivateKey
	ownerAdr common.Address
	deployer *system.ContractDeployer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	st, err := store.NewGenericStateStore(provider)
	require.NoError(t, err)

	m := vm.NewMachine(ledger.NewLedger(st), uint256.NewInt(270))
	sys := DefaultSystemAddresses()
	deployer := system.NewContractDeployer(system.KnownCodesAddress)
	require.NoError(t, m.Register(sys.Bootloader, sink{}, true))
	require.NoError(t, m.Register(sys.NonceHolder, system.NewNonceHolder(), false))
	require.NoError(t, m.Register(system.KnownCodesAddress, system.NewKnownCodes(sys.Bootloader), false))
	require.NoError(t, m.Register(sys.Deployer, deployer, false))
	require.NoError(t, m.Register(tokenAddr, contracts.NewToken("TEST"), false))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	acc, err := Deploy(m.HostFor(accountAddr), sys, owner)
	require.NoError(t, err)
	require.NoError(t, m.Register(accountAddr, acc, true))
	require.NoError(t, m.State().AddBalance(accountAddr, oneEther))

	return &fixture{t: t, m: m, acc: acc, sys: sys, owner: key, ownerAdr: owner, deployer: deployer}
}

func (f *fixture) mintTx(nonce uint64) *types.Transaction {
	data, err := contracts.PackMint(accountAddr, oneEther)
	require.NoError(f.t, err)
	return &types.Transaction{
		Type:                   types.TxTypeAccountAbstraction,
		From:                   accountAddr,
		To:                     tokenAddr,
		GasLimit:               twoPow24.Clone(),
		GasPerPubdataByteLimit: twoPow24.Clone(),
		MaxFeePerGas:           uint256.NewInt(250_000_000),
		Nonce:                  uint256.NewInt(nonce),
		Value:                  new(uint256.Int),
		Data:                   data,
	}
}

func signWith(t *testing.T, key *ecdsa.PrivateKey, hash common.Hash) []byte {
	t.Helper()
	sig, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func (f *fixture) sign(tx *types.Transaction) *types.Transaction {
	tx.Signature = signWith(f.t, f.owner, tx.EncodeHash(f.m.ChainID()))
	return tx
}

func (f *fixture) hashes(tx *types.Transaction) (common.Hash, common.Hash) {
	return tx.Hash(f.m.ChainID()), tx.EncodeHash(f.m.ChainID())
}

func (f *fixture) validate(tx *types.Transaction) (types.Magic, error) {
	txHash, signed := f.hashes(tx)
	return f.acc.ValidateTransaction(context.Background(), f.sys.Bootloader, txHash, signed, tx)
}

func (f *fixture) minNonce() uint64 {
	input, err := system.PackGetMinNonce(accountAddr)
	require.NoError(f.t, err)
	out, err := f.m.View(context.Background(), accountAddr, f.sys.NonceHolder, input, viewGas)
	require.NoError(f.t, err)
	v, err := system.UnpackUint256(system.NonceHolderABI, "getMinNonce", out)
	require.NoError(f.t, err)
	return v.Uint64()
}

func (f *fixture) tokenBalance(addr common.Address) *uint256.Int {
	input, err := contracts.PackBalanceOf(addr)
	require.NoError(f.t, err)
	out, err := f.m.View(context.Background(), addr, tokenAddr, input, viewGas)
	require.NoError(f.t, err)
	bal, err := contracts.UnpackBalance(out)
	require.NoError(f.t, err)
	return bal
}

func TestDeployRejectsZeroOwnerAndReinit(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, f.ownerAdr, f.acc.Owner())

	_, err := Deploy(f.m.HostFor(common.HexToAddress("0x1234")), f.sys, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidOwner)

	_, err = Deploy(f.m.HostFor(accountAddr), f.sys, common.HexToAddress("0x99"))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, f.ownerAdr, f.acc.Owner())
}

func TestValidateOwnerSignedSucceeds(t *testing.T) {
	f := newFixture(t)
	tx := f.sign(f.mintTx(0))

	magic, err := f.validate(tx)
	require.NoError(t, err)
	assert.Equal(t, types.MagicSuccess, magic)
	assert.Equal(t, uint64(1), f.minNonce(), "nonce consumed exactly once")
	assert.Equal(t, oneEther, f.acc.Balance(), "validation moves no funds")
}

func TestValidateRecomputesHashWhenNoneSuggested(t *testing.T) {
	f := newFixture(t)
	tx := f.sign(f.mintTx(0))

	magic, err := f.acc.ValidateTransaction(context.Background(), f.sys.Bootloader, common.Hash{}, common.Hash{}, tx)
	require.NoError(t, err)
	assert.Equal(t, types.MagicSuccess, magic)
}

func TestValidateForeignSignatureIsRejectedNotFatal(t *testing.T) {
	f := newFixture(t)
	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := f.mintTx(0)
	tx.Signature = signWith(t, stranger, tx.EncodeHash(f.m.ChainID()))

	magic, err := f.validate(tx)
	require.NoError(t, err)
	assert.Equal(t, types.MagicRejected, magic)
	assert.Equal(t, oneEther, f.acc.Balance())
}

func TestValidateMalformedSignatures(t *testing.T) {
	f := newFixture(t)
	good := f.sign(f.mintTx(0)).Signature

	highS := make([]byte, 65)
	copy(highS, good)
	n := new(big.Int).Set(crypto.S256().Params().N)
	s := new(big.Int).SetBytes(good[32:64])
	copy(highS[32:64], common.LeftPadBytes(new(big.Int).Sub(n, s).Bytes(), 32))
	highS[64] = 55 - good[64] // flip 27 <-> 28

	badV := make([]byte, 65)
	copy(badV, good)
	badV[64] = 1

	zeroR := make([]byte, 65)
	copy(zeroR, good)
	copy(zeroR[:32], make([]byte, 32))

	allFF := make([]byte, 65)
	for i := range allFF {
		allFF[i] = 0xff
	}

	cases := map[string][]byte{
		"empty":    nil,
		"short":    good[:64],
		"long":     append(append([]byte{}, good...), 0),
		"high-s":   highS,
		"bad v":    badV,
		"zero r":   zeroR,
		"all 0xff": allFF,
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			tx := f.mintTx(0)
			tx.Signature = sig
			magic, err := f.validate(tx)
			require.NoError(t, err)
			assert.Equal(t, types.MagicRejected, magic)
		})
	}
}

func TestRecoverSignerMatchesGeth(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hash := crypto.Keccak256Hash([]byte("message"))
	sig := signWith(t, key, hash)

	signer, err := RecoverSigner(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer)
}

func TestValidateInsufficientBalanceIsFatal(t *testing.T) {
	f := newFixture(t)
	tx := f.mintTx(0)
	tx.GasLimit = uint256.NewInt(1 << 40)
	tx.GasPerPubdataByteLimit = uint256.NewInt(1 << 40)
	f.sign(tx)

	_, err := f.validate(tx)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, oneEther, f.acc.Balance())
	assert.Equal(t, uint64(0), f.minNonce(), "nonce reservation rolled back")
}

func TestValidateBalanceIncludesValue(t *testing.T) {
	f := newFixture(t)
	fee, ok := RequiredFee(f.mintTx(0))
	require.True(t, ok)

	tx := f.mintTx(0)
	tx.Value = new(uint256.Int).Sub(oneEther, fee)
	tx.Value.AddUint64(tx.Value, 1)
	f.sign(tx)
	_, err := f.validate(tx)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	tx = f.mintTx(0)
	tx.Value = new(uint256.Int).Sub(oneEther, fee)
	f.sign(tx)
	magic, err := f.validate(tx)
	require.NoError(t, err)
	assert.Equal(t, types.MagicSuccess, magic)
}

func TestValidateFeeOverflowIsInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	tx := f.mintTx(0)
	tx.GasLimit = new(uint256.Int).SetAllOne()
	tx.GasPerPubdataByteLimit = uint256.NewInt(2)
	f.sign(tx)

	_, err := f.validate(tx)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestPaymasterSkipsFeeInBalanceCheck(t *testing.T) {
	f := newFixture(t)
	tx := f.mintTx(0)
	tx.GasLimit = uint256.NewInt(1 << 40)
	tx.GasPerPubdataByteLimit = uint256.NewInt(1 << 40)
	tx.Paymaster = common.HexToAddress("0x9a7")
	f.sign(tx)

	magic, err := f.validate(tx)
	require.NoError(t, err)
	assert.Equal(t, types.MagicSuccess, magic)
}

func TestDuplicateNonceFailsRegardlessOfSignature(t *testing.T) {
	f := newFixture(t)
	first := f.sign(f.mintTx(0))
	magic, err := f.validate(first)
	require.NoError(t, err)
	require.Equal(t, types.MagicSuccess, magic)

	second := f.sign(f.mintTx(0))
	_, err = f.validate(second)
	assert.ErrorIs(t, err, system.ErrNonceMismatch)

	unsigned := f.mintTx(0)
	_, err = f.validate(unsigned)
	assert.ErrorIs(t, err, system.ErrNonceMismatch)
	assert.Equal(t, uint64(1), f.minNonce())
}

func TestArbitraryOrderingAcceptsOutOfOrderButNotDuplicates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.acc.UpdateNonceOrdering(context.Background(), f.ownerAdr, types.NonceOrderingArbitrary))

	magic, err := f.validate(f.sign(f.mintTx(5)))
	require.NoError(t, err)
	assert.Equal(t, types.MagicSuccess, magic)

	_, err = f.validate(f.sign(f.mintTx(5)))
	assert.ErrorIs(t, err, system.ErrNonceAlreadyUsed)

	err = f.acc.UpdateNonceOrdering(context.Background(), common.HexToAddress("0xbad"), types.NonceOrderingSequential)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestEntryPointsRequireBootloader(t *testing.T) {
	f := newFixture(t)
	tx := f.sign(f.mintTx(0))
	txHash, signed := f.hashes(tx)
	ctx := context.Background()

	for _, caller := range []common.Address{f.ownerAdr, common.HexToAddress("0xbad"), accountAddr} {
		_, err := f.acc.ValidateTransaction(ctx, caller, txHash, signed, tx)
		assert.ErrorIs(t, err, ErrUnauthorizedCaller)
		_, err = f.acc.PayForTransaction(ctx, caller, txHash, signed, tx)
		assert.ErrorIs(t, err, ErrUnauthorizedCaller)
		err = f.acc.PrepareForPaymaster(ctx, caller, txHash, signed, tx)
		assert.ErrorIs(t, err, ErrUnauthorizedCaller)
	}
	assert.Equal(t, uint64(0), f.minNonce())
	assert.Equal(t, oneEther, f.acc.Balance())

	require.NoError(t, f.acc.PrepareForPaymaster(ctx, f.sys.Bootloader, txHash, signed, tx))
}

func TestWrongTypeAndSenderRejected(t *testing.T) {
	f := newFixture(t)
	tx := f.sign(f.mintTx(0))
	tx.Type = 2
	_, err := f.validate(tx)
	assert.ErrorIs(t, err, types.ErrInvalidTxType)

	tx = f.mintTx(0)
	tx.From = common.HexToAddress("0x0123")
	f.sign(tx)
	_, err = f.validate(tx)
	assert.ErrorIs(t, err, ErrSenderMismatch)
	assert.Equal(t, uint64(0), f.minNonce())
}

func TestPayForTransactionMovesExactFee(t *testing.T) {
	f := newFixture(t)
	tx := f.sign(f.mintTx(0))
	txHash, signed := f.hashes(tx)

	magic, err := f.validate(tx)
	require.NoError(t, err)
	require.Equal(t, types.MagicSuccess, magic)

	before := f.m.Balance(f.sys.Bootloader)
	fee, err := f.acc.PayForTransaction(context.Background(), f.sys.Bootloader, txHash, signed, tx)
	require.NoError(t, err)

	expected := new(uint256.Int).Mul(twoPow24, twoPow24)
	assert.Equal(t, expected, fee)
	assert.Equal(t, new(uint256.Int).Add(before, expected), f.m.Balance(f.sys.Bootloader))
	assert.Equal(t, new(uint256.Int).Sub(oneEther, expected), f.acc.Balance())
	assert.True(t, f.tokenBalance(accountAddr).IsZero(), "payment does not execute the call")
}

func TestPayForTransactionFailureLeavesBalance(t *testing.T) {
	f := newFixture(t)
	tx := f.mintTx(0)
	tx.GasLimit = uint256.NewInt(1 << 40)
	tx.GasPerPubdataByteLimit = uint256.NewInt(1 << 40)
	txHash, signed := f.hashes(tx)

	_, err := f.acc.PayForTransaction(context.Background(), f.sys.Bootloader, txHash, signed, tx)
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, oneEther, f.acc.Balance())
	assert.True(t, f.m.Balance(f.sys.Bootloader).IsZero())
}

func TestExecuteByOwnerMints(t *testing.T) {
	f := newFixture(t)
	tx := f.mintTx(0)
	txHash, signed := f.hashes(tx)

	_, err := f.acc.ExecuteTransaction(context.Background(), f.ownerAdr, txHash, signed, tx)
	require.NoError(t, err)
	assert.Equal(t, oneEther, f.tokenBalance(accountAddr))
}

func TestExecuteByStrangerIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	tx := f.mintTx(0)
	txHash, signed := f.hashes(tx)

	_, err := f.acc.ExecuteTransaction(context.Background(), common.HexToAddress("0xbad"), txHash, signed, tx)
	assert.ErrorIs(t, err, ErrUnauthorizedCaller)
	assert.True(t, f.tokenBalance(accountAddr).IsZero())
}

func TestExecuteFailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	data, err := contracts.PackTransfer(common.HexToAddress("0x01"), uint256.NewInt(1))
	require.NoError(t, err)
	tx := f.mintTx(0)
	tx.Data = data
	tx.Value = uint256.NewInt(1000)
	txHash, signed := f.hashes(tx)

	_, err = f.acc.ExecuteTransaction(context.Background(), f.sys.Bootloader, txHash, signed, tx)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.ErrorIs(t, err, contracts.ErrTokenInsufficientBalance)
	assert.Equal(t, oneEther, f.acc.Balance(), "value sent with the failed call is returned")
	assert.True(t, f.m.Balance(tokenAddr).IsZero())
}

func TestExecuteOutOfGasFails(t *testing.T) {
	f := newFixture(t)
	tx := f.mintTx(0)
	tx.GasLimit = uint256.NewInt(vm.CallGas)
	txHash, signed := f.hashes(tx)

	_, err := f.acc.ExecuteTransaction(context.Background(), f.sys.Bootloader, txHash, signed, tx)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.ErrorIs(t, err, vm.ErrOutOfGas)
}

func TestFullBootloaderScenario(t *testing.T) {
	f := newFixture(t)
	tx := f.sign(f.mintTx(0))
	txHash, signed := f.hashes(tx)
	ctx := context.Background()

	magic, err := f.acc.ValidateTransaction(ctx, f.sys.Bootloader, txHash, signed, tx)
	require.NoError(t, err)
	require.Equal(t, types.MagicSuccess, magic)

	fee, err := f.acc.PayForTransaction(ctx, f.sys.Bootloader, txHash, signed, tx)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Mul(twoPow24, twoPow24), fee)
	assert.True(t, f.tokenBalance(accountAddr).IsZero())

	_, err = f.acc.ExecuteTransaction(ctx, f.sys.Bootloader, txHash, signed, tx)
	require.NoError(t, err)
	assert.Equal(t, oneEther, f.tokenBalance(accountAddr))
}

func TestExecuteFromOutside(t *testing.T) {
	f := newFixture(t)
	relayer := common.HexToAddress("0x4e1a")
	ctx := context.Background()

	tx := f.sign(f.mintTx(0))
	_, err := f.acc.ExecuteTransactionFromOutside(ctx, relayer, tx)
	require.NoError(t, err)
	assert.Equal(t, oneEther, f.tokenBalance(accountAddr))
	assert.Equal(t, uint64(1), f.minNonce())

	// replay is stopped by the nonce registry
	_, err = f.acc.ExecuteTransactionFromOutside(ctx, relayer, tx)
	assert.ErrorIs(t, err, system.ErrNonceMismatch)

	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged := f.mintTx(1)
	forged.Signature = signWith(t, stranger, forged.EncodeHash(f.m.ChainID()))
	_, err = f.acc.ExecuteTransactionFromOutside(ctx, relayer, forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, uint64(1), f.minNonce(), "rejected relay leaves the nonce untouched")
	assert.Equal(t, oneEther, f.tokenBalance(accountAddr))
}

func TestDeploymentRoutesThroughDeployer(t *testing.T) {
	f := newFixture(t)
	f.deployer.RegisterCode(contracts.TokenCodeHash, contracts.TokenFactory)
	mark, err := system.PackMarkFactoryDeps([]common.Hash{contracts.TokenCodeHash})
	require.NoError(t, err)
	_, _, err = f.m.SystemCall(context.Background(), f.sys.Bootloader, system.KnownCodesAddress, nil, mark, viewGas)
	require.NoError(t, err)

	data, err := system.PackCreate(common.HexToHash("0x01"), contracts.TokenCodeHash, []byte("NEW"))
	require.NoError(t, err)
	tx := f.mintTx(0)
	tx.To = f.sys.Deployer
	tx.Data = data
	txHash, signed := f.hashes(tx)

	out, err := f.acc.ExecuteTransaction(context.Background(), f.ownerAdr, txHash, signed, tx)
	require.NoError(t, err)
	addr, err := system.UnpackAddress(out)
	require.NoError(t, err)
	assert.Equal(t, system.Create2Address(accountAddr, common.HexToHash("0x01"), contracts.TokenCodeHash, []byte("NEW")), addr)
	assert.True(t, f.m.HasCode(addr))
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	next, err := crypto.GenerateKey()
	require.NoError(t, err)
	nextAddr := crypto.PubkeyToAddress(next.PublicKey)

	_, err = f.acc.TransferOwnership(common.HexToAddress("0xbad"), nextAddr)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = f.acc.TransferOwnership(f.ownerAdr, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidOwner)

	prev, err := f.acc.TransferOwnership(f.ownerAdr, nextAddr)
	require.NoError(t, err)
	assert.Equal(t, f.ownerAdr, prev)
	assert.Equal(t, nextAddr, f.acc.Owner())

	// the old owner's signature no longer validates
	magic, err := f.validate(f.sign(f.mintTx(0)))
	require.NoError(t, err)
	assert.Equal(t, types.MagicRejected, magic)

	tx := f.mintTx(1)
	tx.Signature = signWith(t, next, tx.EncodeHash(f.m.ChainID()))
	magic, err = f.validate(tx)
	require.NoError(t, err)
	assert.Equal(t, types.MagicSuccess, magic)
}

func TestAccountAcceptsDeposits(t *testing.T) {
	f := newFixture(t)
	depositor := common.HexToAddress("0xde9")
	require.NoError(t, f.m.State().AddBalance(depositor, uint256.NewInt(5)))

	_, _, err := f.m.Call(context.Background(), depositor, accountAddr, uint256.NewInt(5), nil, viewGas)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).AddUint64(oneEther, 5), f.acc.Balance())

	_, _, err = f.m.Call(context.Background(), depositor, accountAddr, nil, []byte{1}, viewGas)
	assert.ErrorIs(t, err, vm.ErrUnexpectedCalldata)
}
