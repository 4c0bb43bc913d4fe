// Package gateway serves the tutoring HTTP API.
//
// # Endpoints
//
//   - GET /assistants/{topicId}?userId=X - visible transcript for a topic/user pair
//   - POST /assistants/{topicId} - send a message; SSE stream, or JSON for the opening sentinel
//   - POST /text-to-speech - MP3 audio for a line of text
//   - POST /speech-to-text - transcript for recorded audio
//   - GET /health - liveness
//   - GET /health/ready - store ping
//
// # SSE Streaming
//
// A relayed run starts with a metadata event, then forwards upstream run
// events verbatim:
//
//	event: metadata
//	data: {"threadId":"thread_...","messageId":"msg_..."}
//
//	event: thread.message.delta
//	data: {...}
//
// The response ends after the final reply has been written to the store, so a
// GET issued after the stream closes sees it.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // returns after ctx is canceled and shutdown completes
package gateway
