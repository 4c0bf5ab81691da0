package insight

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitedExtractor(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, string, string, string) ([]Candidate, error) {
		calls++
		return []Candidate{{Category: "polish", Message: "ok"}}, nil
	})
	rl := NewRateLimited(inner, 1, 1)

	got, err := rl.Extract(context.Background(), "i", "w", "polish")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = rl.Extract(ctx, "i", "w", "polish")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRateLimitedUnlimited(t *testing.T) {
	rl := NewRateLimited(Func(func(context.Context, string, string, string) ([]Candidate, error) {
		return nil, nil
	}), 0, 0)
	for i := 0; i < 100; i++ {
		_, err := rl.Extract(context.Background(), "", "", "")
		require.NoError(t, err)
	}
}

func TestInstructionMentionsCategory(t *testing.T) {
	assert.Contains(t, instructionFor("validation"), `"category": "validation"`)
	assert.Contains(t, instructionFor("validation"), "factual or formatting problems")
	assert.Contains(t, instructionFor("custom"), `"category": "custom"`)
}
