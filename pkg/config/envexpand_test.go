package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("COLONY_TEST_TOKEN", "sekrit")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "expands set variable",
			input: `token: "{{.COLONY_TEST_TOKEN}}"`,
			want:  `token: "sekrit"`,
		},
		{
			name:  "missing variable expands to empty",
			input: `token: "{{.COLONY_TEST_UNSET_VAR}}"`,
			want:  `token: ""`,
		},
		{
			name:  "dollar syntax passes through",
			input: `payload: "pay $USER for ${WORK}"`,
			want:  `payload: "pay $USER for ${WORK}"`,
		},
		{
			name:  "no templates is identity",
			input: "a: 1\nb: two\n",
			want:  "a: 1\nb: two\n",
		},
		{
			name:  "malformed template returned untouched",
			input: `token: "{{.BROKEN"`,
			want:  `token: "{{.BROKEN"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(got))
		})
	}
}
