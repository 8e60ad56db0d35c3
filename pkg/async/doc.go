// Package async runs background work with panic recovery and timeouts.
//
// SafeGo starts a single supervised goroutine; failures are logged through
// logrus and never crash the process:
//
//	async.SafeGo(ctx, 0, "role metadata watcher", func(ctx context.Context) error {
//		return loader.Watch(ctx)
//	})
//
// WorkerPool runs tasks on a fixed number of goroutines, each task with its
// own timeout. Batch drives a pool over a slice and waits for it; the worker
// uses it to warm the permission cache:
//
//	result := async.Batch(ctx, userIDs, 8, "cache warm-up", 5*time.Second, warm)
//	log.Infof("warmed %d users, %d failures", result.Processed, len(result.Errors))
package async
