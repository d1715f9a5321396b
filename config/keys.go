package config

import "strconv"

// Well-known keys.
const (
	KeyCoordinatorBuildTag = "coordinator.build_tag"
	KeyWorkerOrdinal       = "worker.ordinal"
	KeyWorkerPort          = "worker.port"
	KeyChannelsPerWorker   = "channels_per_worker"
	KeyForceNumStrands     = "debug.force_num_strands"
	KeyStrandBlockSize     = "debug.strand_block_size"
	KeyChannelReconnect    = "transport.channel_reconnect"
	KeyJobTimeout          = "job.timeout"
)

// Built-in worker defaults.
const (
	DefaultForceNumStrands   = 0
	DefaultStrandBlockSize   = 512
	DefaultChannelsPerWorker = 1
)

// Defaults returns the built-in worker defaults.
func Defaults() *Tree {
	return FromMap(map[string]string{
		KeyChannelsPerWorker: strconv.Itoa(DefaultChannelsPerWorker),
		KeyForceNumStrands:   strconv.Itoa(DefaultForceNumStrands),
		KeyStrandBlockSize:   strconv.Itoa(DefaultStrandBlockSize),
	})
}

// Resolve merges the three configuration sources with the precedence
// local > remote > defaults. Any of them may be nil.
func Resolve(defaults, remote, local *Tree) *Tree {
	return Merge(defaults, remote, local)
}
