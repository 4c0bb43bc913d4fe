// ABOUTME: HTTP handlers for the text-to-speech and speech-to-text passthroughs
// ABOUTME: Accepts multipart or raw audio uploads and returns MP3 audio or transcript JSON

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/speech"
)

// Whisper's upload limit
const maxAudioBody = 25 << 20

// TranscriptResponse is the JSON response for POST /speech-to-text.
type TranscriptResponse struct {
	Text    string `json:"text,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// handleTextToSpeech handles POST /text-to-speech.
func (g *Gateway) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req speech.SynthesizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	audio, err := g.speech.Synthesize(r.Context(), req)
	switch {
	case errors.Is(err, speech.ErrInvalidVoice):
		g.sendJSONError(w, http.StatusBadRequest, "Invalid voice option")
		return
	case errors.Is(err, speech.ErrInvalidInput):
		g.sendJSONError(w, http.StatusBadRequest, "Invalid input text")
		return
	case err != nil:
		g.sendJSONError(w, http.StatusInternalServerError, "Failed to generate text-to-speech audio")
		return
	}
	defer audio.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := io.Copy(w, audio); err != nil {
		g.logger.Warn("speech audio copy interrupted", "error", err)
	}
}

// handleSpeechToText handles POST /speech-to-text. The audio is either the
// "file" part of a multipart form or the raw request body.
func (g *Gateway) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBody)

	var (
		audio    io.Reader = r.Body
		filename string
	)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			g.sendJSON(w, http.StatusBadRequest, TranscriptResponse{Error: "missing audio file"})
			return
		}
		defer file.Close()
		audio, filename = file, header.Filename
	} else if r.ContentLength == 0 {
		g.sendJSON(w, http.StatusBadRequest, TranscriptResponse{Error: "missing audio file"})
		return
	}

	text, err := g.speech.Transcribe(r.Context(), audio, filename)
	if err != nil {
		g.sendJSON(w, http.StatusInternalServerError, TranscriptResponse{Error: "Failed to transcribe audio"})
		return
	}
	g.sendJSON(w, http.StatusOK, TranscriptResponse{Text: text, Success: true})
}
