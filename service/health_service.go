package service

import (
	"context"
	"time"

	"github.com/mezonai/mmn-aa/bootloader"
	"github.com/mezonai/mmn-aa/errors"
	"github.com/mezonai/mmn-aa/interfaces"
	"github.com/mezonai/mmn-aa/vm"
)

const Version = "1.0.0"

type HealthServiceImpl struct {
	bl        *bootloader.Bootloader
	machine   *vm.Machine
	nodeID    string
	startedAt time.Time
}

func NewHealthService(bl *bootloader.Bootloader, machine *vm.Machine, nodeID string) *HealthServiceImpl {
	return &HealthServiceImpl{bl: bl, machine: machine, nodeID: nodeID, startedAt: time.Now()}
}

func (hs *HealthServiceImpl) Check(ctx context.Context) (*interfaces.HealthStatus, error) {
	select {
	case <-ctx.Done():
		return nil, errors.NewError(errors.ErrCodeInternal, "health check timeout")
	default:
	}

	now := time.Now()
	resp := &interfaces.HealthStatus{
		Status:    "SERVING",
		NodeID:    hs.nodeID,
		Timestamp: uint64(now.Unix()),
		Uptime:    uint64(now.Sub(hs.startedAt).Seconds()),
		Version:   Version,
	}
	if hs.bl == nil || hs.machine == nil {
		resp.Status = "NOT_SERVING"
		return resp, nil
	}
	resp.ChainID = hs.machine.ChainID().Dec()
	resp.InflightTxs = hs.bl.Tracker().Count()
	return resp, nil
}
