package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/njia-health/njia/pkg/provider/llm"
	llmmock "github.com/njia-health/njia/pkg/provider/llm/mock"
	"github.com/njia-health/njia/pkg/provider/stt"
	sttmock "github.com/njia-health/njia/pkg/provider/stt/mock"
)

func TestSTTFallback_FailsOverToSecondary(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("backend down")}
	secondary := &sttmock.Provider{Result: &stt.Result{Text: "testimony"}}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	res, err := f.Transcribe(context.Background(), stt.Request{Samples: []float32{0, 0}, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "testimony" {
		t.Errorf("text = %q", res.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("down")}
	f := NewSTTFallback(primary, "primary", FallbackConfig{})

	_, err := f.Transcribe(context.Background(), stt.Request{Samples: []float32{0, 0}, SampleRate: 16000})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("down")}
	secondary := &sttmock.Provider{Result: &stt.Result{Text: "ok"}}

	f := NewSTTFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 2},
	})
	f.AddFallback("secondary", secondary)

	req := stt.Request{Samples: []float32{0, 0}, SampleRate: 16000}
	for i := 0; i < 3; i++ {
		if _, err := f.Transcribe(context.Background(), req); err != nil {
			t.Fatalf("Transcribe #%d: %v", i, err)
		}
	}

	// After two failures the primary's breaker is open; the third request
	// must not touch it.
	if primary.CallCount() != 2 {
		t.Errorf("primary calls = %d, want 2", primary.CallCount())
	}
	if secondary.CallCount() != 3 {
		t.Errorf("secondary calls = %d, want 3", secondary.CallCount())
	}
}

func TestLLMFallback_FailsOverToSecondary(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("quota exceeded")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "{}"}}

	f := NewLLMFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "{}" {
		t.Errorf("content = %q", resp.Content)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	f := NewLLMFallback(&llmmock.Provider{CompleteErr: errors.New("down")}, "primary", FallbackConfig{})

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
