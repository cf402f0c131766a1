package account

import (
	"context"
	"fmt"
	"math"

	"github.com/mezonai/mmn-aa/types"
)

// dispatch performs the call described by tx. Deployments go through the
// deployer system channel, everything else is a plain call forwarding the
// transaction's gas limit.
func (a *Account) dispatch(ctx context.Context, tx *types.Transaction) ([]byte, error) {
	gas := uint64(math.MaxUint64)
	if limit := types.U256(tx.GasLimit); limit.IsUint64() {
		gas = limit.Uint64()
	}
	value := types.U256(tx.Value)

	var (
		out []byte
		err error
	)
	if tx.To == a.sys.Deployer {
		out, err = a.host.SystemCall(ctx, tx.To, value, tx.Data, gas)
	} else {
		out, err = a.host.Call(ctx, tx.To, value, tx.Data, gas)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	return out, nil
}
