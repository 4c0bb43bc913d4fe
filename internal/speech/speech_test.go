// ABOUTME: Tests for the speech passthroughs using a fake audio API
// ABOUTME: Checks defaults, voice and input validation, and upstream error wrapping

package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudio struct {
	speechReq openai.CreateSpeechRequest
	audioReq  openai.AudioRequest
	audioBody string
	err       error
}

func (f *fakeAudio) CreateSpeech(_ context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	f.speechReq = req
	if f.err != nil {
		return openai.RawResponse{}, f.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader("ID3-mp3-bytes"))}, nil
}

func (f *fakeAudio) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.audioReq = req
	if f.err != nil {
		return openai.AudioResponse{}, f.err
	}
	body, _ := io.ReadAll(req.Reader)
	f.audioBody = string(body)
	return openai.AudioResponse{Text: "what is a socket"}, nil
}

func TestSynthesize_Defaults(t *testing.T) {
	api := &fakeAudio{}
	svc := New(api, slog.Default())

	rc, err := svc.Synthesize(context.Background(), SynthesizeRequest{Input: "Hello"})
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "ID3-mp3-bytes", string(data))
	assert.Equal(t, openai.SpeechModel("tts-1"), api.speechReq.Model)
	assert.Equal(t, openai.SpeechVoice("alloy"), api.speechReq.Voice)
	assert.Equal(t, openai.SpeechResponseFormatMp3, api.speechReq.ResponseFormat)
}

func TestSynthesize_Validation(t *testing.T) {
	svc := New(&fakeAudio{}, slog.Default())

	_, err := svc.Synthesize(context.Background(), SynthesizeRequest{Voice: "robot", Input: "x"})
	assert.ErrorIs(t, err, ErrInvalidVoice)

	_, err = svc.Synthesize(context.Background(), SynthesizeRequest{Voice: "sage"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, v := range Voices {
		rc, err := svc.Synthesize(context.Background(), SynthesizeRequest{Voice: v, Input: "x"})
		require.NoError(t, err, v)
		rc.Close()
	}
}

func TestSynthesize_UpstreamError(t *testing.T) {
	upstream := errors.New("rate limited")
	svc := New(&fakeAudio{err: upstream}, slog.Default())

	_, err := svc.Synthesize(context.Background(), SynthesizeRequest{Input: "x"})
	assert.ErrorIs(t, err, upstream)
}

func TestTranscribe(t *testing.T) {
	api := &fakeAudio{}
	svc := New(api, slog.Default())

	text, err := svc.Transcribe(context.Background(), strings.NewReader("webm-bytes"), "")
	require.NoError(t, err)
	assert.Equal(t, "what is a socket", text)
	assert.Equal(t, "whisper-1", api.audioReq.Model)
	assert.Equal(t, "en", api.audioReq.Language)
	assert.Equal(t, "audio.webm", api.audioReq.FilePath)
	assert.Equal(t, "webm-bytes", api.audioBody)
}

func TestTranscribe_Errors(t *testing.T) {
	svc := New(&fakeAudio{err: errors.New("boom")}, slog.Default())

	_, err := svc.Transcribe(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = svc.Transcribe(context.Background(), strings.NewReader("x"), "clip.ogg")
	assert.ErrorContains(t, err, "creating transcription")
}
