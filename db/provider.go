package db

import "fmt"

// DatabaseProvider is the key-value surface the state and receipt stores
// need. Get returns nil, nil for an absent key.
type DatabaseProvider interface {
	Get(key []byte) ([]byte, error)
	GetBatch(keys [][]byte) (map[string][]byte, error)
	Put(key, value []byte) error
	Batch() DatabaseBatch
	Close() error
}

// IterableProvider adds ordered prefix scans; fn returns false to stop
type IterableProvider interface {
	DatabaseProvider
	IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error
}

// DatabaseBatch buffers writes until Write applies them together.
// A batch must be closed whether or not it was written.
type DatabaseBatch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Write() error
	Close()
}

// Backend names accepted in the [db] section of node.ini
const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
	BackendRedis   = "redis"
)

type ProviderConfig struct {
	Backend   string
	Directory string
	RedisAddr string
	RedisDB   int
}

// NewProvider opens the backend named by cfg.Backend
func NewProvider(cfg ProviderConfig) (IterableProvider, error) {
	switch cfg.Backend {
	case BackendLevelDB, "":
		if cfg.Directory == "" {
			return nil, fmt.Errorf("leveldb backend requires a directory")
		}
		return NewLevelDBProvider(cfg.Directory)
	case BackendMemory:
		return NewMemLevelDBProvider()
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		return NewRedisProvider(cfg.RedisAddr, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported db backend: %s", cfg.Backend)
	}
}
