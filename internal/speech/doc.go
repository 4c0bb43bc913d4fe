// Package speech passes audio requests through to the upstream speech and
// transcription models. It holds no state.
package speech
