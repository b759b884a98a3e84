// Package extract converts free-text testimony into the closed clinical
// fact schema via a text-generation capability.
//
// The capability is constrained by a two-part instruction — a system-level
// constraint set and a user-level extraction request naming exactly the
// eight target fields — and asked for JSON-only output with deterministic
// decoding. Because generation output is never trusted to be well-formed,
// the raw text is scanned for the first balanced JSON object; any ambiguity
// degrades to the canonical all-absent fact set rather than failing the
// pipeline.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/njia-health/njia/internal/facts"
	"github.com/njia-health/njia/pkg/provider/llm"
)

// defaultMaxTokens bounds the generation length. The eight-field JSON object
// fits comfortably; the bound guards against runaway generations.
const defaultMaxTokens = 512

const systemPrompt = `You are a medical forensic documentation assistant.

Your task is to extract structured clinical facts from survivor testimony.
Do NOT summarize.
Do NOT add new information.
Do NOT assume intent.

Only extract facts explicitly stated or clearly implied.

Use neutral, clinical language.`

// Outcome is the tagged result of an extraction. Degrading to defaults is an
// expected, common result — not an error — so it is carried as data.
type Outcome struct {
	// Facts always has all eight canonical keys.
	Facts facts.Set

	// Defaulted is true when the generation step produced no usable JSON
	// and Facts is the canonical all-absent set. The surrounding
	// application logs this as a soft condition.
	Defaulted bool
}

// AcquireFunc lazily constructs the text-generation capability. It is
// invoked at most once per Extractor, on first use.
type AcquireFunc func() (llm.Provider, error)

// Option is a functional option for configuring an Extractor.
type Option func(*Extractor)

// WithMaxTokens overrides the generation length bound. Defaults to 512.
func WithMaxTokens(n int) Option {
	return func(e *Extractor) { e.maxTokens = n }
}

// Extractor converts testimony text into a clinical fact set. The underlying
// capability handle is acquired once, on first use, and shared across all
// subsequent calls; acquisition is safe to race from concurrent cases.
type Extractor struct {
	acquire   AcquireFunc
	maxTokens int

	once     sync.Once
	provider llm.Provider
	initErr  error
}

// New creates an Extractor with a lazily acquired capability.
func New(acquire AcquireFunc, opts ...Option) *Extractor {
	e := &Extractor{
		acquire:   acquire,
		maxTokens: defaultMaxTokens,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewWithProvider creates an Extractor over an already-constructed
// capability. Used by tests and by callers that manage provider lifecycle
// themselves.
func NewWithProvider(p llm.Provider, opts ...Option) *Extractor {
	return New(func() (llm.Provider, error) { return p, nil }, opts...)
}

// capability returns the shared provider handle, acquiring it on first call.
// A failed acquisition is sticky: every later call reports the same error
// without re-attempting, and the caller decides whether to rebuild the
// Extractor.
func (e *Extractor) capability() (llm.Provider, error) {
	e.once.Do(func() {
		e.provider, e.initErr = e.acquire()
		if e.initErr == nil && e.provider == nil {
			e.initErr = fmt.Errorf("extract: acquire returned nil provider")
		}
	})
	return e.provider, e.initErr
}

// Extract runs the extraction over transcript text. The only error condition
// is an unavailable or failing generation capability; malformed generation
// output is not an error and yields the all-absent outcome instead.
func (e *Extractor) Extract(ctx context.Context, transcript string) (Outcome, error) {
	p, err := e.capability()
	if err != nil {
		return Outcome{}, fmt.Errorf("extract: capability unavailable: %w", err)
	}

	resp, err := p.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildExtractionRequest(transcript)},
		},
		Temperature: 0,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("extract: completion: %w", err)
	}

	return Parse(resp.Content), nil
}

// Parse scans raw generated text for the first balanced JSON object and
// decodes it into the fact schema. No JSON object, or invalid JSON, yields
// the defaulted all-absent outcome.
func Parse(raw string) Outcome {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return Outcome{Facts: facts.AllAbsent(), Defaulted: true}
	}
	set, err := facts.Decode([]byte(obj))
	if err != nil {
		return Outcome{Facts: facts.AllAbsent(), Defaulted: true}
	}
	return Outcome{Facts: set}
}

// buildExtractionRequest names the eight target fields and demands JSON-only
// output for the given testimony.
func buildExtractionRequest(transcript string) string {
	var b strings.Builder
	b.WriteString("Extract the following fields from the testimony below.\n\nFields:\n")
	for _, name := range facts.FieldNames {
		b.WriteString("- ")
		b.WriteString(name)
		if name == "repeated_assault" {
			b.WriteString(" (yes/no/unclear)")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReturn output as JSON only.\n\nTestimony:\n\"\"\"")
	b.WriteString(transcript)
	b.WriteString("\"\"\"\n")
	return b.String()
}

// firstJSONObject returns the substring from the first '{' through its
// matching '}'. Braces inside JSON strings (and escaped quotes inside those
// strings) do not count toward the balance. Returns false when no balanced
// object exists.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
