// Package daemon keeps a local store in step with its remote while a host
// process runs.
//
// # Architecture
//
// The daemon has three loops:
//
//   - a pull ticker, which fetches and merges every PullInterval
//   - a push ticker, which pushes local commits every PushInterval, but
//     only when there is something to push
//   - an optional RefWatcher on the remote's refs/heads directory, for
//     remotes that are local directories; ref updates are debounced into
//     a single pull
//
// All of the work goes through a Syncer, normally an *engine.Engine, which
// serialises it with the commands the host is running.
//
// A timeout or rejected push makes a ticker retry sooner, backing off
// from RetryDelay. Failures that need the user, such as conflicts or
// refused credentials, halt all three loops; Stats reports Halted and
// the Halted channel is closed.
//
//	d := daemon.New(eng, cfg.DaemonConfig(logger))
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Stop()
package daemon
