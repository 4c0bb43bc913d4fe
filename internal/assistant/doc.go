// Package assistant wraps the upstream conversational-assistant service.
//
// The Client interface covers threads, user messages, runs, run streaming and
// reading the newest thread message. OpenAIClient implements it on the OpenAI
// Assistants API with github.com/sashabaranov/go-openai for request/response
// calls and a server-sent event reader for streamed runs.
//
// The assistanttest subpackage provides an in-memory Fake that records how
// many runs are active on each thread.
package assistant
