// Package async provides safe background execution for side effects that run
// off the request path.
//
// SafeGo runs a function in a goroutine with panic recovery, a timeout and
// error logging through the context logger:
//
//	async.SafeGo(ctx, 5*time.Second, "cache warm", func(ctx context.Context) error {
//		return cache.Warm(ctx)
//	})
//
// Tracker does the same for work that must outlive the request (audit
// writes after a membership change) and can be drained on shutdown:
//
//	tracker := async.NewTracker(5 * time.Second)
//	shutdown.Register("audit", tracker.Drain)
//
// # Related Packages
//
//   - pkg/access: audit events are written through a Tracker
package async
