// Package ext defines the extension system for cohort.
//
// Extensions are notified of worker and coordinator lifecycle events and
// can react to them by recording metrics, writing audit logs, and so on.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnRegistered(ctx context.Context, cc *cluster.Context) error {
//	    log.Printf("joined as rank %d", cc.Rank())
//	    return nil
//	}
//
// # Worker Hooks
//
//   - [Registered]: the handshake completed and the context was published
//   - [RegistrationFailed]: the handshake failed
//   - [JobReceived]: a job arrived on the worker's job channel
//   - [Deregistered]: the worker told the coordinator it is leaving
//   - [TerminationRequested]: an interrupt or terminate request arrived
//   - [Shutdown]: the worker or coordinator is shutting down
//
// # Coordinator Hooks
//
//   - [MemberJoined]: a worker confirmed registration
//   - [MemberLeft]: an active worker deregistered
//   - [MemberLost]: a worker's link dropped without deregistration
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
