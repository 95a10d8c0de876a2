package options

import "time"

const (
	// Specifies the default base directory where pyre stores the state
	// file, index files and data files. If no other directory is specified
	// during initialization, this path will be used.
	DefaultDataDir = "logdata"

	// Defines how long a log handle may stay untouched before the eviction
	// worker unloads it.
	DefaultMaxIdle = 30 * time.Second

	// Defines how often the eviction worker scans for idle handles.
	DefaultCheckInterval = time.Second

	// Represents the smallest accepted idle window. Anything shorter would
	// evict handles between two requests of the same client.
	MinMaxIdle = 100 * time.Millisecond

	// Represents the smallest accepted eviction scan interval.
	MinCheckInterval = 10 * time.Millisecond

	// Specifies the entry count at which an append triggers a compaction
	// cycle on that key's data file.
	DefaultCompactionTrigger uint32 = 1 << 14

	// Specifies how many of the oldest entries one compaction cycle drops.
	DefaultCompactionCycle uint32 = 1 << 11

	// Caps how much of an AddEntry request body is read; anything past it
	// is truncated, never rejected. Matches the largest payload the u16
	// frame length can carry, so the HTTP layer and the engine agree on
	// where truncation happens.
	DefaultMaxBodyBytes int64 = 65535
)

// Holds the default configuration settings for a pyre instance.
var defaultOptions = Options{
	DataDir: DefaultDataDir,
	Eviction: &evictionOptions{
		MaxIdle:       DefaultMaxIdle,
		CheckInterval: DefaultCheckInterval,
	},
	Compaction: &compactionOptions{
		TriggerEntries: DefaultCompactionTrigger,
		CycleEntries:   DefaultCompactionCycle,
	},
	Server: &serverOptions{
		MaxBodyBytes: DefaultMaxBodyBytes,
	},
}

func NewDefaultOptions() Options {
	opts := defaultOptions
	eviction := *defaultOptions.Eviction
	compaction := *defaultOptions.Compaction
	server := *defaultOptions.Server
	opts.Eviction = &eviction
	opts.Compaction = &compaction
	opts.Server = &server
	return opts
}
