package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/delaight/waiter/internal/audio"
	"github.com/delaight/waiter/internal/menu"
	"github.com/delaight/waiter/internal/prompt"
	"github.com/delaight/waiter/internal/session"
	"github.com/delaight/waiter/internal/testutil"
	"github.com/delaight/waiter/internal/tools"
	"github.com/delaight/waiter/internal/waiter"
)

type fakeMenu struct {
	results []menu.Result
	err     error
}

func (f *fakeMenu) Search(_ context.Context, _ string, _ int, _ float64) ([]menu.Result, error) {
	return f.results, f.err
}

type fakeBridge struct {
	transcript    string
	transcribeErr error
	speech        []byte
	speechErr     error
	heardText     string
}

func (f *fakeBridge) SpeechToText(_ context.Context, _ io.Reader) (string, error) {
	return f.transcript, f.transcribeErr
}

func (f *fakeBridge) TextToSpeech(_ context.Context, text string) ([]byte, error) {
	f.heardText = text
	if f.speechErr != nil {
		return nil, f.speechErr
	}
	return f.speech, nil
}

type testServer struct {
	url    string
	model  *testutil.MockModel
	bridge *fakeBridge
	menu   *fakeMenu
}

func newTestServer(t *testing.T, mutateAgent func(*waiter.Config), mutateServer func(*Config)) *testServer {
	t.Helper()

	g := genkit.Init(context.Background())

	model := testutil.NewMockModel("")
	model.Register(g)

	renderer, err := prompt.New()
	if err != nil {
		t.Fatalf("prompt.New: %v", err)
	}

	fm := &fakeMenu{results: []menu.Result{
		{Document: menu.Document{
			Content:  "Spaghetti Carbonara Pasta [spaghetti, guanciale, pecorino]",
			Metadata: map[string]string{"Name": "Spaghetti Carbonara"},
		}, Score: 0.92},
		{Document: menu.Document{
			Content:  "Margherita Pizza [tomato, mozzarella, basil]",
			Metadata: map[string]string{"Name": "Margherita"},
		}, Score: 0.88},
	}}

	registry := tools.NewRegistry(nil)
	findDishes, err := tools.NewFindDishes(fm, 4, 0)
	if err != nil {
		t.Fatalf("NewFindDishes: %v", err)
	}
	orderDish, err := tools.NewOrderDish(nil)
	if err != nil {
		t.Fatalf("NewOrderDish: %v", err)
	}
	classify, err := tools.NewClassifyPrompt(g, renderer, "mock/waiter-model")
	if err != nil {
		t.Fatalf("NewClassifyPrompt: %v", err)
	}
	for _, def := range []*tools.Definition{findDishes, orderDish, classify} {
		if err := registry.Register(def); err != nil {
			t.Fatalf("registering tool: %v", err)
		}
	}

	agentCfg := waiter.Config{
		Genkit:    g,
		Sessions:  session.NewStore(20),
		Menu:      fm,
		Prompts:   renderer,
		Registry:  registry,
		ModelName: "mock/waiter-model",
	}
	if mutateAgent != nil {
		mutateAgent(&agentCfg)
	}
	agent, err := waiter.New(agentCfg)
	if err != nil {
		t.Fatalf("waiter.New: %v", err)
	}

	bridge := &fakeBridge{speech: []byte("synthesized-mp3")}
	srvCfg := Config{
		Agent:     agent,
		Audio:     bridge,
		Registry:  registry,
		RateBurst: 1000,
	}
	if mutateServer != nil {
		mutateServer(&srvCfg)
	}
	srv, err := NewServer(srvCfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{url: ts.URL, model: model, bridge: bridge, menu: fm}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.model.Reply("something with tomatoes", "The Margherita is perfect for you.")

	resp := postJSON(t, ts.url+"/ai/chat", map[string]string{
		"message":        "I want something with tomatoes",
		"conversationId": "c1",
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if got := resp.Header.Get("X-Conversation-Id"); got != "c1" {
		t.Errorf("X-Conversation-Id = %q, want c1", got)
	}
	if body := readBody(t, resp); body != "The Margherita is perfect for you." {
		t.Errorf("body = %q", body)
	}
}

func TestChatMissingMessage(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp := postJSON(t, ts.url+"/ai/chat", map[string]string{"conversationId": "c1"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if errResp.Error != "invalid_request" {
		t.Errorf("error = %q, want invalid_request", errResp.Error)
	}
	if ts.model.CallCount() != 0 {
		t.Errorf("model called %d times for invalid request", ts.model.CallCount())
	}
}

func TestChatGeneratesConversationID(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.model.Reply("hello", "Buongiorno!")

	resp := postJSON(t, ts.url+"/ai/chat", map[string]string{"message": "hello"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Conversation-Id") == "" {
		t.Error("expected a generated conversation id in X-Conversation-Id")
	}
}

func TestChatProviderFailure(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.model.FailWith(errors.New("upstream 429 rate limit"))

	resp := postJSON(t, ts.url+"/ai/chat", map[string]string{
		"message": "hello", "conversationId": "c1",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestChatProviderTimeout(t *testing.T) {
	ts := newTestServer(t, func(cfg *waiter.Config) {
		cfg.ModelTimeout = 50 * time.Millisecond
	}, nil)
	ts.model.Delay(500 * time.Millisecond)

	resp := postJSON(t, ts.url+"/ai/chat", map[string]string{
		"message": "hello", "conversationId": "c1",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}
}

func TestStream(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	final := "The Margherita is a classic choice with tomato and basil."
	ts.model.Reply("something with tomatoes", final)

	resp := postJSON(t, ts.url+"/ai/stream", map[string]string{
		"message":        "I want something with tomatoes",
		"conversationId": "s1",
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := readBody(t, resp); body != final {
		t.Errorf("streamed body = %q, want %q", body, final)
	}
}

func TestStreamErrorBeforeOutput(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.model.FailWith(errors.New("provider unavailable"))

	resp := postJSON(t, ts.url+"/ai/stream", map[string]string{
		"message": "hello", "conversationId": "s2",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestOrderDish(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp := postJSON(t, ts.url+"/ai/order-dish", map[string]any{
		"meals": []string{"Margherita"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var order tools.OrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatalf("decoding order response: %v", err)
	}
	if order.DeliveredInMinutes != 20 {
		t.Errorf("deliveredInMinutes = %d, want 20", order.DeliveredInMinutes)
	}
}

func TestOrderDishEmptyMeals(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp := postJSON(t, ts.url+"/ai/order-dish", map[string]any{"meals": []string{}})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFindDishes(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.url + "/ai/find-dishes?foodElements=tomato&foodElements=basil")
	if err != nil {
		t.Fatalf("GET find-dishes: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var descriptions []string
	if err := json.NewDecoder(resp.Body).Decode(&descriptions); err != nil {
		t.Fatalf("decoding descriptions: %v", err)
	}
	if len(descriptions) != 2 {
		t.Fatalf("got %d descriptions, want 2: %v", len(descriptions), descriptions)
	}
	if !strings.Contains(descriptions[0], "Spaghetti Carbonara") {
		t.Errorf("descriptions[0] = %q", descriptions[0])
	}
}

func TestFindDishesMissingParam(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.url + "/ai/find-dishes")
	if err != nil {
		t.Fatalf("GET find-dishes: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPromptClassifier(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.model.Reply("classify the following prompt",
		`{"classification":"FOOD","foodElements":["tomato","pasta"]}`)

	resp, err := http.Get(ts.url + "/ai/prompt-classifier?prompt=pasta+with+tomato")
	if err != nil {
		t.Fatalf("GET prompt-classifier: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var verdict tools.PromptClassification
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		t.Fatalf("decoding verdict: %v", err)
	}
	if verdict.Classification != tools.ClassificationFood {
		t.Errorf("classification = %q, want FOOD", verdict.Classification)
	}
	if len(verdict.FoodElements) != 2 {
		t.Errorf("foodElements = %v, want 2 entries", verdict.FoodElements)
	}
}

func TestPromptClassifierMissingParam(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.url + "/ai/prompt-classifier")
	if err != nil {
		t.Fatalf("GET prompt-classifier: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func postAudio(t *testing.T, url string, clip []byte, conversationID string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := fw.Write(clip); err != nil {
		t.Fatalf("writing clip: %v", err)
	}
	if err := mw.WriteField("conversationId", conversationID); err != nil {
		t.Fatalf("writing field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST audio: %v", err)
	}
	return resp
}

func TestAudioChat(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.bridge.transcript = "I would like a carbonara"
	ts.model.Reply("carbonara", "One Spaghetti Carbonara coming up.")

	clip := audio.WrapPCM(bytes.Repeat([]byte{1, 2}, 64), audio.DefaultSampleRate, audio.DefaultChannels, audio.DefaultBitDepth)
	resp := postAudio(t, ts.url+"/ai/audio-chat", clip, "a1")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := readBody(t, resp); body != "synthesized-mp3" {
		t.Errorf("audio body = %q", body)
	}
	if ts.bridge.heardText != "One Spaghetti Carbonara coming up." {
		t.Errorf("synthesized text = %q", ts.bridge.heardText)
	}
}

// A silent clip substitutes the fallback utterance: the model still answers
// exactly once and the audio reply is non-empty.
func TestAudioChatEmptyTranscription(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.bridge.transcript = ""
	ts.model.Reply("could not make out", "No problem, take your time.")

	resp := postAudio(t, ts.url+"/ai/audio-chat", []byte("not-a-container"), "a2")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := readBody(t, resp); body == "" {
		t.Error("audio reply is empty")
	}
	if got := ts.model.CallCount(); got != 1 {
		t.Errorf("model called %d times, want exactly 1", got)
	}
	if ts.bridge.heardText != "No problem, take your time." {
		t.Errorf("synthesized text = %q", ts.bridge.heardText)
	}
}

func TestAudioChatSynthesisFailure(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.bridge.transcript = "I would like a carbonara"
	ts.bridge.speechErr = errors.New("tts unavailable")
	ts.model.Reply("carbonara", "One Spaghetti Carbonara coming up.")

	clip := audio.WrapPCM([]byte{1, 2, 3, 4}, audio.DefaultSampleRate, audio.DefaultChannels, audio.DefaultBitDepth)
	resp := postAudio(t, ts.url+"/ai/audio-chat", clip, "a3")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestAudioChatMissingConversationID(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	_, _ = fw.Write([]byte{1, 2, 3})
	_ = mw.Close()

	resp, err := http.Post(ts.url+"/ai/audio-chat", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST audio: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSpeech(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.model.Reply("tiramisu", "Tiramisu is our finest dessert.")

	resp := postJSON(t, ts.url+"/ai/speech", map[string]string{
		"message": "tell me about tiramisu", "conversationId": "v1",
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "synthesized-mp3" {
		t.Errorf("audio body = %q", body)
	}
	if ts.bridge.heardText != "Tiramisu is our finest dessert." {
		t.Errorf("synthesized text = %q", ts.bridge.heardText)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.url + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestReadyWithoutPool(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.url + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, func(cfg *Config) {
		cfg.RateBurst = 2
	})
	ts.model.Reply("hello", "Buongiorno!")

	var last int
	for range 3 {
		resp := postJSON(t, ts.url+"/ai/chat", map[string]string{
			"message": "hello", "conversationId": "r1",
		})
		last = resp.StatusCode
		resp.Body.Close()
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last)
	}
}
