package waiter

import (
	"context"
)

// defaultStreamBuffer is the token queue capacity for Stream.
const defaultStreamBuffer = 32

// TokenStream delivers response tokens from a running turn.
//
// The queue is bounded: when the consumer falls behind, the producing turn
// blocks instead of buffering unboundedly. Tokens are never dropped.
type TokenStream struct {
	tokens chan string
	done   chan struct{}
	resp   *Response
	err    error
}

// Tokens returns the channel of response chunks. It is closed when the turn
// finishes; afterwards Result() reports the outcome.
func (s *TokenStream) Tokens() <-chan string { return s.tokens }

// Result returns the turn's final response and error.
// Valid only after Tokens() is closed.
func (s *TokenStream) Result() (*Response, error) {
	<-s.done
	return s.resp, s.err
}

// Stream runs one turn, delivering text through a bounded token queue.
//
// The turn runs in a background goroutine; cancel ctx to abandon it. When
// ctx is cancelled the producer stops blocking on the queue and the turn
// fails without committing history.
func (a *Agent) Stream(ctx context.Context, conversationID, input string, buffer int) *TokenStream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	s := &TokenStream{
		tokens: make(chan string, buffer),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.tokens)

		s.resp, s.err = a.ExecuteStream(ctx, conversationID, input,
			func(cbCtx context.Context, chunk string) error {
				select {
				case s.tokens <- chunk:
					return nil
				case <-cbCtx.Done():
					return cbCtx.Err()
				case <-ctx.Done():
					return ctx.Err()
				}
			})
	}()

	return s
}
