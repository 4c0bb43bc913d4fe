// ABOUTME: Text-to-speech and speech-to-text passthroughs over go-openai
// ABOUTME: Validates voices and input, applies model defaults, and maps upstream failures

package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/sashabaranov/go-openai"
)

// Defaults applied when a request leaves a field empty
const (
	DefaultSpeechModel = string(openai.TTSModel1)
	DefaultVoice       = "alloy"
	TranscriptionModel = openai.Whisper1
	TranscriptLanguage = "en"
	UploadFilename     = "audio.webm"
)

// Voices lists the accepted text-to-speech voices
var Voices = []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"}

var (
	ErrInvalidVoice = errors.New("invalid voice option")
	ErrInvalidInput = errors.New("invalid input text")
	ErrEmptyAudio   = errors.New("empty audio")
)

// AudioAPI is the subset of *openai.Client used for speech
type AudioAPI interface {
	CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error)
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Service performs speech requests
type Service struct {
	api    AudioAPI
	logger *slog.Logger
}

// New creates a Service. api is usually *openai.Client.
func New(api AudioAPI, logger *slog.Logger) *Service {
	return &Service{api: api, logger: logger.With("component", "speech")}
}

// SynthesizeRequest is the text-to-speech request body
type SynthesizeRequest struct {
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
	Input string `json:"input"`
}

// Synthesize returns an MP3 stream the caller must close
func (s *Service) Synthesize(ctx context.Context, req SynthesizeRequest) (io.ReadCloser, error) {
	if req.Model == "" {
		req.Model = DefaultSpeechModel
	}
	if req.Voice == "" {
		req.Voice = DefaultVoice
	}
	if !slices.Contains(Voices, req.Voice) {
		return nil, ErrInvalidVoice
	}
	if req.Input == "" {
		return nil, ErrInvalidInput
	}

	resp, err := s.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(req.Model),
		Voice:          openai.SpeechVoice(req.Voice),
		Input:          req.Input,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		s.logger.Error("speech synthesis failed", "model", req.Model, "voice", req.Voice, "error", err)
		return nil, fmt.Errorf("creating speech: %w", err)
	}
	return resp.ReadCloser, nil
}

// Transcribe converts recorded audio to English text
func (s *Service) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if audio == nil {
		return "", ErrEmptyAudio
	}
	if filename == "" {
		filename = UploadFilename
	}

	resp, err := s.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    TranscriptionModel,
		FilePath: filename,
		Reader:   audio,
		Language: TranscriptLanguage,
	})
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		return "", fmt.Errorf("creating transcription: %w", err)
	}
	return resp.Text, nil
}
