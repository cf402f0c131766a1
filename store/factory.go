package store

import (
	"fmt"

	"github.com/mezonai/mmn-aa/db"
)

// StoreConfig holds configuration for creating store instances
type StoreConfig struct {
	Backend   string `json:"backend" yaml:"backend"`
	Directory string `json:"directory" yaml:"directory"`
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`
	RedisDB   int    `json:"redis_db" yaml:"redis_db"`
}

// Validate validates the store configuration
func (sc *StoreConfig) Validate() error {
	switch sc.Backend {
	case db.BackendLevelDB:
		if sc.Directory == "" {
			return fmt.Errorf("directory cannot be empty")
		}
	case db.BackendRedis:
		if sc.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
	case db.BackendMemory:
	default:
		return fmt.Errorf("unsupported store type: %q", sc.Backend)
	}
	return nil
}

// Stores groups the stores sharing one provider
type Stores struct {
	State    StateStore
	Receipts ReceiptStore
	provider db.IterableProvider
}

// Close releases the shared provider once
func (s *Stores) Close() error {
	return s.provider.Close()
}

// CreateStores opens the configured provider and builds every store on it
func CreateStores(config *StoreConfig) (*Stores, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	provider, err := db.NewProvider(db.ProviderConfig{
		Backend:   config.Backend,
		Directory: config.Directory,
		RedisAddr: config.RedisAddr,
		RedisDB:   config.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return NewStores(provider)
}

// NewStores builds the stores on an already opened provider
func NewStores(provider db.IterableProvider) (*Stores, error) {
	stateStore, err := NewGenericStateStore(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}

	receiptStore, err := NewGenericReceiptStore(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt store: %w", err)
	}

	return &Stores{State: stateStore, Receipts: receiptStore, provider: provider}, nil
}
