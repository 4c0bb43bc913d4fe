// Package runs coordinates upstream assistant runs on a thread.
//
// Coordinator.CancelActiveRuns is called before every user message is added
// so a thread never carries two queued or in-progress runs submitted by this
// gateway. It is best-effort: a concurrent request on the same thread can
// still race it.
//
// Poller.Wait replaces open-ended status loops with a bounded poll that ends
// in exactly one of Completed, Failed or TimedOut.
package runs
