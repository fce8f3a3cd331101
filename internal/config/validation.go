package config

import (
	"fmt"
	"os"
	"slices"
)

// supportedVoices are the speech synthesis voices the provider accepts.
var supportedVoices = []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"}

// Validate checks all configuration values and fails fast on the first
// problem. Called by Load(); call it directly when constructing a Config
// by hand (tests, tooling).
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is not set", ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.HistoryWindow < MinHistoryWindow || c.HistoryWindow > MaxHistoryWindow {
		return fmt.Errorf("%w: %d (must be between %d and %d)",
			ErrInvalidHistoryWindow, c.HistoryWindow, MinHistoryWindow, MaxHistoryWindow)
	}
	if c.MaxToolDepth < 1 || c.MaxToolDepth > 20 {
		return fmt.Errorf("%w: %d (must be between 1 and 20)", ErrInvalidToolDepth, c.MaxToolDepth)
	}
	if c.ModelTimeoutMS < 1000 {
		return fmt.Errorf("%w: %dms (must be at least 1000ms)", ErrInvalidModelTimeout, c.ModelTimeoutMS)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be between 1 and 65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}

	if !slices.Contains(supportedVoices, c.Audio.SpeechVoice) {
		return fmt.Errorf("%w: %q (supported: %v)", ErrInvalidVoice, c.Audio.SpeechVoice, supportedVoices)
	}

	return nil
}
