// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] and applied before each job the
// worker receives from its coordinator. They are applied right-to-left:
// the first middleware in the slice is the outermost wrapper.
//
//	listener := joblistener.New(transport,
//	    joblistener.WithMiddleware(middleware.Logging(logger), middleware.Timeout(logger)),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs job name, duration and outcome with the worker's rank
//   - [Recover] catches panics and converts them to errors
//   - [Timeout] cancels the job context after the job's "timeout" param or
//     the configured job.timeout
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-job duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, cc *cluster.Context, j *wire.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
