package store

// Declare database key prefix for objects
const (
	PrefixBalance = "bal:"
	PrefixSlot    = "slot:"

	PrefixReceipt = "receipt:"

	PrefixMeta           = "meta:"
	MetaKeyGenesisLoaded = "genesis_loaded"
)
