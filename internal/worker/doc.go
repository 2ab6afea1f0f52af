// Package worker runs the background side of the service: the pool that
// consumes research jobs, the sweeper that re-enqueues topics whose job was
// lost or whose worker died, and the cleaner that purges old finished topics.
//
// Each component exposes a blocking Run(ctx) that returns once ctx is done.
package worker
