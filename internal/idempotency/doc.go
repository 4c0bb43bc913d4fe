// Package idempotency guards the send endpoint against replayed requests.
//
// A client may attach an Idempotency-Key header to a send. The first request
// carrying a key claims it for the configured TTL; later requests with the same
// key for the same (topic, user) are refused until the claim expires. Claims
// are in-process only and do not survive a restart.
package idempotency
