// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	t.Parallel()
	words := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("w%d", i)
		}
		return out
	}
	tests := []struct {
		name          string
		words         []string
		opts          []Option
		wantWordCount int
		wantErr       bool
	}{
		{
			// ceil((64 - 5*log2(10)) / 8) = ceil(5.92)
			name:          "defaults with 256 words",
			words:         words(256),
			wantWordCount: 6,
		},
		{
			// ceil((64 - 5*log2(10)) / log2(7776)) = ceil(3.66)
			name:          "diceware sized list",
			words:         words(7776),
			wantWordCount: 4,
		},
		{
			name:          "no digits",
			words:         words(256),
			opts:          []Option{WithDigits(0)},
			wantWordCount: 8,
		},
		{
			name:          "higher entropy",
			words:         words(1024),
			opts:          []Option{WithEntropy(128)},
			wantWordCount: 12,
		},
		{
			name:          "digits alone exceed entropy",
			words:         words(256),
			opts:          []Option{WithEntropy(8), WithDigits(5)},
			wantWordCount: 1,
		},
		{
			name:    "single word",
			words:   words(1),
			wantErr: true,
		},
		{
			name:    "negative digits",
			words:   words(256),
			opts:    []Option{WithDigits(-1)},
			wantErr: true,
		},
		{
			name:    "zero entropy",
			words:   words(256),
			opts:    []Option{WithEntropy(0)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, err := NewGenerator(tt.words, tt.opts...)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWordCount, g.WordCount())
		})
	}
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	words := DefaultWords()
	require.Len(words, 256)

	g, err := NewGenerator(words)
	require.NoError(err)
	known := map[string]bool{}
	for _, w := range words {
		known[w] = true
	}

	seen := map[string]bool{}
	suffix := regexp.MustCompile(`^[0-9]{5}$`)
	for i := 0; i < 50; i++ {
		pw, err := g.Generate()
		require.NoError(err)
		require.False(seen[pw], "duplicate password %q", pw)
		seen[pw] = true

		parts := strings.Split(pw, "-")
		require.Len(parts, g.WordCount()+1)
		for _, w := range parts[:len(parts)-1] {
			require.True(known[w], "%q is not in the word list", w)
		}
		require.Regexp(suffix, parts[len(parts)-1])
	}
}

func TestGenerator_Generate_NoDigits(t *testing.T) {
	t.Parallel()
	g, err := NewGenerator([]string{"a", "b"}, WithDigits(0), WithEntropy(4))
	require.NoError(t, err)
	pw, err := g.Generate()
	require.NoError(t, err)
	assert.Regexp(t, `^[ab]-[ab]-[ab]-[ab]$`, pw)
}

func TestGenerator_Generate_RandFailure(t *testing.T) {
	t.Parallel()
	g, err := NewGenerator(DefaultWords(), WithRandReader(strings.NewReader("")))
	require.NoError(t, err)
	_, err = g.Generate()
	require.Error(t, err)
}

func TestLoadWords(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\n  beta \n\ngamma\nalpha\n"), 0o600))

	words, err := LoadWords(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, words)

	_, err = LoadWords(filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
