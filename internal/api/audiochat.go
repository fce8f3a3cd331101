package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/delaight/waiter/internal/audio"
	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/waiter"
)

// maxAudioUpload bounds the multipart audio payload.
const maxAudioUpload = 10 << 20 // 10 MB

type audioHandler struct {
	agent  *waiter.Agent
	bridge audio.Bridge
	logger log.Logger
}

// chat handles POST /ai/audio-chat: multipart audio in, synthesized audio out.
//
// An empty transcription substitutes the fallback utterance so the model
// still answers; a synthesis failure is a hard 502 since empty audio would
// look like success to the client.
func (h *audioHandler) chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "expected multipart form with audio", h.logger)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "audio file is required", h.logger)
		return
	}
	defer file.Close()

	conversationID := r.FormValue("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversationId is required", h.logger)
		return
	}

	clip, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "reading audio upload failed", h.logger)
		return
	}
	// Recorder clients may ship raw PCM without a container header.
	if !audio.IsWAV(clip) && !looksLikeMP3(clip) {
		clip = audio.WrapPCM(clip, audio.DefaultSampleRate, audio.DefaultChannels, audio.DefaultBitDepth)
	}

	utterance, err := h.bridge.SpeechToText(r.Context(), bytes.NewReader(clip))
	if err != nil {
		h.logger.Error("transcription failed", "error", err)
		writeError(w, http.StatusBadGateway, "transcription_failed", "could not transcribe audio", h.logger)
		return
	}
	if utterance == "" {
		h.logger.Info("empty transcription, using fallback utterance", "conversation_id", conversationID)
		utterance = audio.FallbackUtterance
	}

	resp, err := h.agent.Execute(r.Context(), conversationID, utterance)
	if err != nil {
		writeTurnError(w, err, h.logger)
		return
	}

	h.synthesize(w, r, resp.Text)
}

// speech handles POST /ai/speech: a text turn answered as synthesized audio.
func (h *audioHandler) speech(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r, h.logger)
	if !ok {
		return
	}

	resp, err := h.agent.Execute(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		writeTurnError(w, err, h.logger)
		return
	}

	h.synthesize(w, r, resp.Text)
}

func (h *audioHandler) synthesize(w http.ResponseWriter, r *http.Request, text string) {
	reply, err := h.bridge.TextToSpeech(r.Context(), text)
	if err != nil {
		h.logger.Error("speech synthesis failed", "error", err)
		writeError(w, http.StatusBadGateway, "synthesis_failed", "could not synthesize audio reply", h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(reply); err != nil {
		h.logger.Debug("failed to write audio response", "error", err)
	}
}

// looksLikeMP3 sniffs an ID3 tag or an MPEG frame sync.
func looksLikeMP3(data []byte) bool {
	if len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")) {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}
