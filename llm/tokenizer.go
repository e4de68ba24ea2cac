package llm

import (
	"math"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// TokenCounter estimates how many model tokens a piece of text occupies.
// The summarizer uses it to decide when the pending buffer is worth folding.
type TokenCounter interface {
	CountTokens(text string) int
	CountMessagesTokens(msgs []types.Message) int
}

const (
	// DefaultEncoding is the tiktoken encoding used when none is configured.
	DefaultEncoding = "cl100k_base"

	// Chat-format framing costs: every message carries role/name scaffolding,
	// and the conversation is primed with a reply header.
	messageOverheadTokens     = 4
	conversationPrimingTokens = 3
)

// Estimate is a dependency-free counter: roughly 4 characters per token for
// alphabetic scripts and 1.5 for CJK, which tokenizes far denser.
type Estimate struct{}

func (Estimate) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return int(math.Ceil(float64(cjk)/1.5) + math.Ceil(float64(other)/4))
}

func (e Estimate) CountMessagesTokens(msgs []types.Message) int {
	return countMessagesTokens(e, msgs)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Tiktoken counts with pkoukk/tiktoken-go. The encoding is loaded lazily on
// first use because building the BPE ranks is expensive; if loading fails the
// counter degrades to Estimate and logs once.
type Tiktoken struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktoken returns a lazy counter for the given encoding name
// (e.g. "cl100k_base"). Empty selects DefaultEncoding.
func NewTiktoken(encoding string, logger *zap.Logger) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiktoken{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (t *Tiktoken) init() {
	t.enc, t.initErr = tiktoken.GetEncoding(t.encoding)
	if t.initErr != nil {
		t.logger.Warn("tiktoken encoding unavailable, falling back to estimate",
			zap.String("encoding", t.encoding),
			zap.Error(t.initErr))
	}
}

func (t *Tiktoken) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(t.init)
	if t.initErr != nil {
		return Estimate{}.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) CountMessagesTokens(msgs []types.Message) int {
	return countMessagesTokens(t, msgs)
}

func countMessagesTokens(tc TokenCounter, msgs []types.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := conversationPrimingTokens
	for _, m := range msgs {
		total += messageOverheadTokens
		total += tc.CountTokens(m.Content)
		if m.Name != "" {
			total += tc.CountTokens(m.Name)
		}
	}
	return total
}
