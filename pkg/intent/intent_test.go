package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
)

var columns = []string{"Customer", "Amount", "Date"}

func newClassifier(b backend.Backend) *Classifier {
	return New(b, backend.RetryPolicy{MaxRetries: 1}, logging.Nop())
}

func TestClassify_ParsesModelReply(t *testing.T) {
	b := backend.NewScripted().On(backend.StageIntent,
		backend.Text("```json\n{\"intent\":\"data_analysis\",\"confidence\":0.93}\n```"))

	got := newClassifier(b).Classify(context.Background(), "What is the total of column Amount?", columns)
	assert.Equal(t, DataAnalysis, got.Label)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	assert.False(t, got.Fallback)

	req, ok := b.LastRequest(backend.StageIntent)
	require.True(t, ok)
	assert.Contains(t, req.Messages[1].Content, "Customer, Amount, Date")
}

func TestClassify_UnclearGetsQuestion(t *testing.T) {
	b := backend.NewScripted().On(backend.StageIntent, backend.JSON(map[string]any{"intent": "unclear", "reason": "no column"}))

	got := newClassifier(b).Classify(context.Background(), "show me the thing", columns)
	assert.Equal(t, Unclear, got.Label)
	assert.Contains(t, got.Question, "Amount")
	assert.Equal(t, 0.5, got.Confidence)
}

func TestClassify_RetriesUnknownLabel(t *testing.T) {
	b := backend.NewScripted().On(backend.StageIntent,
		backend.Text(`{"intent":"banana"}`),
		backend.Text(`{"intent":"chitchat","confidence":2}`))

	got := newClassifier(b).Classify(context.Background(), "hey", columns)
	assert.Equal(t, Chitchat, got.Label)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, 2, b.Calls(backend.StageIntent))
}

func TestClassify_FallsBackOnFailure(t *testing.T) {
	tests := []struct {
		utterance string
		want      Label
	}{
		{"hello", Chitchat},
		{"Thanks a lot!", Chitchat},
		{"你好", Chitchat},
		{"this total", Unclear},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			b := backend.NewScripted().On(backend.StageIntent, backend.Fail(backend.ErrUnavailable))
			got := newClassifier(b).Classify(context.Background(), tt.utterance, columns)
			assert.Equal(t, tt.want, got.Label)
			assert.True(t, got.Fallback)
			if tt.want == Unclear {
				assert.NotEmpty(t, got.Question)
			}
		})
	}
}

func TestDefaultQuestion(t *testing.T) {
	assert.Contains(t, DefaultQuestion(nil), "rephrase")
	q := DefaultQuestion([]string{"a", "b", "c", "d", "e", "f", "g"})
	assert.Contains(t, q, "f")
	assert.NotContains(t, q, "g,")
}
