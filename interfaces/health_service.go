package interfaces

import "context"

type HealthStatus struct {
	Status      string `json:"status"`
	NodeID      string `json:"node_id"`
	ChainID     string `json:"chain_id"`
	Timestamp   uint64 `json:"timestamp"`
	Uptime      uint64 `json:"uptime"`
	InflightTxs int64  `json:"inflight_txs"`
	Version     string `json:"version"`
}

type HealthService interface {
	Check(ctx context.Context) (*HealthStatus, error)
}
