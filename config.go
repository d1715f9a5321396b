package cohort

import (
	"time"

	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/handshake"
	"github.com/xraph/cohort/wire"
)

// Protocol version declared by this build. Coordinator and worker must
// match exactly.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// BuildTag identifies the exact build. Set it at link time:
//
//	go build -ldflags "-X github.com/xraph/cohort.BuildTag=$(git rev-parse HEAD)"
var BuildTag = "dev"

// Version returns the protocol version declared by this build.
func Version() handshake.Version {
	return handshake.Version{Major: VersionMajor, Minor: VersionMinor}
}

// Config holds configuration for a Worker.
type Config struct {
	// Coordinator is the coordinator's address. A zero port means
	// endpoint.DefaultCoordinatorPort.
	Coordinator endpoint.Endpoint

	// Bind is the worker's listening address. "." and "localhost" resolve
	// to the primary interface. Port 0 picks a free port.
	Bind endpoint.Endpoint

	// Ordinal is the provisional worker number sent at registration,
	// 0 when unknown.
	Ordinal int

	// StaticRank, when non-zero, must equal the rank the coordinator
	// assigns.
	StaticRank int

	// Version and BuildTag are declared to the coordinator.
	Version  handshake.Version
	BuildTag string

	// StrictBuildCheck fails registration on a build mismatch. When false
	// a mismatch is logged and tolerated.
	StrictBuildCheck bool

	// VerifyMesh checks reachability of every group member after
	// registration.
	VerifyMesh bool

	// ChannelReconnect re-dials dropped links.
	ChannelReconnect bool

	// HandleSignals installs an interrupt/terminate watcher for the
	// duration of Run.
	HandleSignals bool

	// Format is the preferred envelope codec, "json" or "msgpack".
	Format string

	// Token is the shared secret presented on every link.
	Token string

	// ReplyTimeout bounds the wait for the registration reply.
	ReplyTimeout time.Duration

	// ConfirmTimeout bounds the wait for the final acknowledgment.
	ConfirmTimeout time.Duration

	// DeregisterTimeout bounds the deregistration send.
	DeregisterTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Bind:              endpoint.New(".", endpoint.DefaultWorkerPort),
		Version:           Version(),
		BuildTag:          BuildTag,
		StrictBuildCheck:  true,
		Format:            wire.CodecNameJSON,
		ReplyTimeout:      5 * time.Minute,
		ConfirmTimeout:    time.Minute,
		DeregisterTimeout: 60 * time.Second,
	}
}
