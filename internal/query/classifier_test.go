package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"numeric_analytics":           CategoryNumeric,
		"sales":                       CategoryNumeric,
		" Manual ":                    CategoryOperational,
		"document_lookup_operational": CategoryOperational,
		"policy":                      CategoryPolicy,
	}
	for in, want := range cases {
		got, ok := ParseCategory(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseCategory("general")
	assert.False(t, ok)
}

func TestCategoryCorpus(t *testing.T) {
	assert.Equal(t, "manuals", string(CategoryOperational.Corpus()))
	assert.Equal(t, "policies", string(CategoryPolicy.Corpus()))
}

func TestClassifier_Classify(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
		want    Category
	}{
		{"canonical", `{"category":"numeric_analytics","reason":"매출"}`, nil, CategoryNumeric},
		{"legacy alias", `{"category":"manual"}`, nil, CategoryOperational},
		{"fenced json", "```json\n{\"category\":\"policy\"}\n```", nil, CategoryPolicy},
		{"unknown category", `{"category":"general"}`, nil, DefaultFallbackCategory},
		{"malformed", `sales`, nil, DefaultFallbackCategory},
		{"empty", ``, nil, DefaultFallbackCategory},
		{"transport error", ``, errBoom, DefaultFallbackCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&fakeCompleter{classify: tt.content, err: tt.err}, "")
			got := c.Classify(context.Background(), "질문")
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestClassifier_ConfiguredFallback(t *testing.T) {
	c := NewClassifier(&fakeCompleter{classify: `nope`}, CategoryOperational)
	assert.Equal(t, CategoryOperational, c.Classify(context.Background(), "q"))
	assert.Equal(t, CategoryOperational, c.Fallback())
}

func TestClassifier_UsesJSONMode(t *testing.T) {
	f := &fakeCompleter{classify: `{"category":"policy"}`}
	NewClassifier(f, "").Classify(context.Background(), "환불 규정 알려줘")

	require.Len(t, f.calls, 1)
	assert.True(t, f.calls[0].JSON)
	assert.Equal(t, "환불 규정 알려줘", f.calls[0].UserPrompt)
	require.NotNil(t, f.calls[0].Temperature)
	assert.Zero(t, *f.calls[0].Temperature)
}
