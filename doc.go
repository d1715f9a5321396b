// Package cohort runs a worker that joins a fixed-size group managed by a
// coordinator.
//
// A [Worker] starts its transport, performs the registration handshake
// with the coordinator, runs an [Executor] once registered, and leaves the
// group cleanly. Interrupt and terminate requests are routed through
// [Worker.HandleTermination], which deregisters the worker at most once
// and cancels the executor.
//
// # Quick Start
//
//	w, err := cohort.New(listener,
//	    cohort.WithCoordinator(endpoint.MustParse("10.0.0.1:20000")),
//	    cohort.WithBind(endpoint.MustParse(".:20100")),
//	    cohort.WithSignalHandling(true),
//	)
//	if err != nil {
//	    return err
//	}
//	return w.Run(ctx)
//
// # Architecture
//
// The handshake lives in the handshake package, the message transport in
// mp, and the published cluster state in cluster. The registration flag is
// the only state shared between the run path and the termination path; it
// is read and written with atomics.
package cohort
