// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import (
	"bufio"
	"bytes"
	"crypto/rand"
	_ "embed"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"strings"
)

const (
	DefaultDigits  = 5
	DefaultEntropy = 64
)

//go:embed wordlist.txt
var defaultWordlist []byte

// DefaultWords returns the built-in word list.
func DefaultWords() []string {
	words, _ := ReadWords(bytes.NewReader(defaultWordlist))
	return words
}

// ReadWords reads a line separated word list. Blank lines are skipped and
// duplicates dropped so they don't inflate the computed entropy.
func ReadWords(r io.Reader) ([]string, error) {
	seen := map[string]bool{}
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		w := strings.TrimSpace(sc.Text())
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

// LoadWords reads the word list at path.
func LoadWords(path string) ([]string, error) {
	const op = "device.LoadWords"
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()
	words, err := ReadWords(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, path, err)
	}
	return words, nil
}

// Generator creates device passwords: words from a list joined by dashes,
// followed by a numeric suffix. Enough words are used that the password
// carries at least the requested entropy.
type Generator struct {
	words     []string
	digits    int
	wordCount int
	rand      io.Reader
}

type generatorOptions struct {
	withDigits  int
	withEntropy int
	withRand    io.Reader
}

func generatorDefaults() generatorOptions {
	return generatorOptions{
		withDigits:  DefaultDigits,
		withEntropy: DefaultEntropy,
		withRand:    rand.Reader,
	}
}

// NewGenerator creates a Generator using words, which must hold at least
// two distinct words.
// Supported options: WithDigits, WithEntropy, WithRandReader
func NewGenerator(words []string, opt ...Option) (*Generator, error) {
	const op = "device.NewGenerator"
	opts := generatorDefaults()
	ApplyOpts(&opts, opt...)
	switch {
	case len(words) < 2:
		return nil, fmt.Errorf("%s: word list needs at least two words: %w", op, ErrInvalidParameter)
	case opts.withDigits < 0:
		return nil, fmt.Errorf("%s: negative digit count: %w", op, ErrInvalidParameter)
	case opts.withEntropy <= 0:
		return nil, fmt.Errorf("%s: entropy must be positive: %w", op, ErrInvalidParameter)
	}
	count := int(math.Ceil(
		(float64(opts.withEntropy) - math.Log2(10)*float64(opts.withDigits)) / math.Log2(float64(len(words))),
	))
	if count < 1 {
		count = 1
	}
	return &Generator{
		words:     words,
		digits:    opts.withDigits,
		wordCount: count,
		rand:      opts.withRand,
	}, nil
}

// WordCount is the number of words in every generated password.
func (g *Generator) WordCount() int {
	return g.wordCount
}

// Generate returns a new password.
func (g *Generator) Generate() (string, error) {
	const op = "Generator.Generate"
	parts := make([]string, 0, g.wordCount+1)
	for i := 0; i < g.wordCount; i++ {
		n, err := randInt(g.rand, len(g.words))
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		parts = append(parts, g.words[n])
	}
	if g.digits > 0 {
		suffix, err := randomDigits(g.rand, g.digits)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		parts = append(parts, suffix)
	}
	return strings.Join(parts, "-"), nil
}

func randInt(r io.Reader, max int) (int, error) {
	n, err := rand.Int(r, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("unable to read random data: %w", err)
	}
	return int(n.Int64()), nil
}

func randomDigits(r io.Reader, n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := randInt(r, 10)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d))
	}
	return b.String(), nil
}
