package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractRoles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		claims map[string]any
		want   []string
	}{
		{
			name:   "comma separated string",
			claims: map[string]any{"role": "admin,editor"},
			want:   []string{"admin", "editor"},
		},
		{
			name:   "list of strings",
			claims: map[string]any{"role": []any{"admin", "editor"}},
			want:   []string{"admin", "editor"},
		},
		{
			name:   "bare scalar",
			claims: map[string]any{"role": "USER"},
			want:   []string{"USER"},
		},
		{
			name:   "whitespace and duplicates",
			claims: map[string]any{"role": " admin , editor,admin,, "},
			want:   []string{"admin", "editor"},
		},
		{
			name:   "list keeps first-seen order",
			claims: map[string]any{"role": []any{"editor", " admin", "editor", nil, ""}},
			want:   []string{"editor", "admin"},
		},
		{
			name:   "numeric scalar",
			claims: map[string]any{"role": float64(7)},
			want:   []string{"7"},
		},
		{
			name:   "absent",
			claims: map[string]any{"sub": "a@b.c"},
			want:   []string{},
		},
		{
			name:   "null",
			claims: map[string]any{"role": nil},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractRoles(tt.claims, "role"))
		})
	}
}

func TestSplitRoles(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"ADMIN", "USER"}, SplitRoles("ADMIN, USER ,ADMIN"))
	assert.Equal(t, []string{}, SplitRoles("  "))
	assert.Equal(t, []string{"USER"}, SplitRoles("USER"))
}
