package agent

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"bdagent/internal/domain"
)

// messageOverhead approximates the per-message framing tokens chat APIs add.
const messageOverhead = 4

// TokenCounter estimates how many tokens a piece of text occupies.
type TokenCounter interface {
	Count(text string) int
}

// CountMessages estimates the prompt size of a message list.
func CountMessages(tc TokenCounter, msgs []domain.Message) int {
	total := 3 // reply priming
	for _, m := range msgs {
		total += messageOverhead + tc.Count(m.Text)
	}
	return total
}

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
	encErr  error
)

// NewTokenCounter returns a cl100k_base counter. If the encoding cannot be
// loaded (it is fetched on first use) it falls back to a length estimate.
func NewTokenCounter(logger *slog.Logger) TokenCounter {
	encOnce.Do(func() {
		encoder, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encErr != nil {
		logger.Warn("tiktoken unavailable, estimating tokens from length", "error", encErr)
		return ApproxCounter{}
	}
	return tiktokenCounter{enc: encoder}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter estimates one token per four bytes.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
