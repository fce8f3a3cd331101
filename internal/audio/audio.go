// Package audio bridges speech and text for voice conversations.
//
// Transcription and synthesis are plain request/response adapters to the
// OpenAI audio endpoints; they hold no conversation state. The orchestrator
// never sees raw audio.
package audio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/delaight/waiter/internal/config"
	"github.com/delaight/waiter/internal/log"
)

// FallbackUtterance replaces an empty or unintelligible transcription so
// the model still receives a prompt and can respond politely.
const FallbackUtterance = "I could not make out what was said. Please ask me politely what I would like to eat or drink."

// Bridge converts between speech and text.
// Implemented by Client; fake it in tests.
type Bridge interface {
	// SpeechToText transcribes spoken audio. An empty result means the
	// audio was silent or unintelligible, not an error.
	SpeechToText(ctx context.Context, audio io.Reader) (string, error)

	// TextToSpeech synthesizes spoken audio (MP3) from text.
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

// Client is the OpenAI-backed Bridge.
type Client struct {
	api    openai.Client
	cfg    config.AudioConfig
	logger log.Logger
}

// NewClient creates an audio client. The API key comes from OPENAI_API_KEY,
// matching the chat model plugin.
func NewClient(cfg config.AudioConfig, logger log.Logger, opts ...option.RequestOption) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		api:    openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// SpeechToText transcribes audio with the configured transcription model.
func (c *Client) SpeechToText(ctx context.Context, audio io.Reader) (string, error) {
	resp, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:     audio,
		Model:    openai.AudioModel(c.cfg.TranscriptionModel),
		Language: openai.String(c.cfg.TranscriptionLang),
	})
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	c.logger.Debug("transcribed audio", "chars", len(text))
	return text, nil
}

// TextToSpeech synthesizes MP3 audio with the configured speech model.
func (c *Client) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text for speech synthesis")
	}

	resp, err := c.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(c.cfg.SpeechVoice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(c.cfg.SpeechSpeed),
	})
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading synthesized audio: %w", err)
	}
	c.logger.Debug("synthesized speech", "bytes", len(data))
	return data, nil
}
