// Package conversation runs a user turn against the upstream assistant.
//
// # Send path
//
// SendMessage resolves the (topic, user) thread, then either bootstraps it or
// relays a streamed run:
//
//  1. Cancel active runs on the thread (best-effort)
//  2. Add the user message upstream, then persist it (deduplicated)
//  3. Start a streaming run and forward each event to the caller
//  4. After the completion event, refetch the newest thread message and
//     persist it as the assistant reply
//
// Persistence failures are logged and never fail the turn. Failures to
// resolve the thread, add the message or start the run are returned.
//
// # Bootstrap
//
// Every thread opens with a hidden exchange: the sentinel user message ("Hi")
// and the assistant's greeting, both persisted with IsBootstrap set.
//
//	NEW --sentinel or auto--> BOOTSTRAPPING --run completed--> READY
//
// Bootstrap polls a non-streamed run with runs.Poller. Failed and TimedOut
// outcomes return ErrBootstrapFailed and ErrBootstrapTimeout and leave the
// thread NEW, as does a completed run with no assistant reply. On a READY
// thread the sentinel is an ordinary streamed turn. Records with visible
// messages but no bootstrap pair predate the flag and are never bootstrapped.
//
// # Stopping
//
// Cancelling the request context stops local consumption only. The upstream
// run keeps going until the next send cancels it; its reply is not persisted.
package conversation
