package cohort

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Reason identifies why termination was requested.
type Reason int

const (
	// ReasonInterrupt is an interactive interrupt (SIGINT).
	ReasonInterrupt Reason = iota + 1
	// ReasonTerminateRequest is an external terminate request (SIGTERM).
	ReasonTerminateRequest
)

func (r Reason) String() string {
	switch r {
	case ReasonInterrupt:
		return "interrupt"
	case ReasonTerminateRequest:
		return "terminate"
	default:
		return "unknown"
	}
}

// ExitCode returns the conventional status of a process ended by the
// signal behind r.
func (r Reason) ExitCode() int {
	switch r {
	case ReasonInterrupt:
		return 128 + int(syscall.SIGINT)
	case ReasonTerminateRequest:
		return 128 + int(syscall.SIGTERM)
	default:
		return 1
	}
}

// InterruptedError reports a run ended by a termination request that was
// left to the default disposition: the worker was not registered yet, or
// deregistration failed. Err is the failure the interruption caused, if any.
type InterruptedError struct {
	Reason Reason
	Err    error
}

func (e *InterruptedError) Error() string {
	msg := ErrInterrupted.Error() + " (" + e.Reason.String() + ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrInterrupted and the underlying failure.
func (e *InterruptedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInterrupted}
	}
	return []error{ErrInterrupted, e.Err}
}

// HandleTermination reacts to an interrupt or terminate request. When the
// worker is registered and not already stopping, it deregisters and then
// requests run cancellation once. It reports whether the default
// termination should still proceed: false only when this call
// deregistered the worker.
//
// HandleTermination is safe to call concurrently with Run and with itself.
func (w *Worker) HandleTermination(reason Reason) bool {
	ctx := context.Background()
	w.logger.Info("termination requested", slog.String("reason", reason.String()))
	w.extensions.EmitTerminationRequested(ctx, reason.String())

	proto := w.protocol.Load()
	if proto == nil || !w.reg.Registered() || w.stopping.Load() {
		return true
	}

	left := proto.Deregister(ctx, nil)
	if left {
		w.left.Store(true)
		w.extensions.EmitDeregistered(ctx, nil)
	}
	w.requestStop(reason)
	return !left
}

// requestStop cancels the run once and remembers the first reason.
func (w *Worker) requestStop(reason Reason) {
	w.reason.CompareAndSwap(0, int32(reason))
	if w.stopping.CompareAndSwap(false, true) {
		w.cancelRun()
	}
}

func (w *Worker) cancelRun() {
	if cancel := w.cancel.Load(); cancel != nil {
		(*cancel)()
	}
}

// watchSignals routes SIGINT and SIGTERM to HandleTermination until the
// returned stop function is called. When the handler leaves the default
// disposition in place the run is cancelled and reports the interruption.
func (w *Worker) watchSignals() (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				reason := ReasonInterrupt
				if sig == syscall.SIGTERM {
					reason = ReasonTerminateRequest
				}
				if w.HandleTermination(reason) {
					w.requestStop(reason)
				}
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
