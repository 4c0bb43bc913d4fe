// Package history turns a stored message log into what the chat UI shows.
package history
