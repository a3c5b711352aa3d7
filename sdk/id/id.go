// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

// DefaultLength is the number of random base62 characters in an id, which
// gives a little over 119 bits of entropy.
const DefaultLength = 20

// New generates an id with an optional prefix.
func New(optionalPrefix string) (string, error) {
	id, err := base62.Random(DefaultLength)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
