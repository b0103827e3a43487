// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"os"
	"strconv"
)

// DefaultMergeTableMaxSize is MAX_FETCH_SIZE from spec section 3: the
// default cap on the number of rows the fetch cache will hold before it is
// discarded.
const DefaultMergeTableMaxSize = 10_000

// mergeTableMaxSizeEnvVar is the single environment-tunable knob spec
// section 6 allows. There is deliberately no flag-registration layer
// around it — see DESIGN.md for why a config framework would be
// over-engineering for one scalar.
const mergeTableMaxSizeEnvVar = "MERGE_TABLE_MAX_SIZE"

// MergeTableMaxSize returns the configured fetch-cache cap: the value of
// MERGE_TABLE_MAX_SIZE if it is set to a positive integer, else
// DefaultMergeTableMaxSize.
func MergeTableMaxSize() int {
	v := os.Getenv(mergeTableMaxSizeEnvVar)
	if v == "" {
		return DefaultMergeTableMaxSize
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return DefaultMergeTableMaxSize
	}
	return n
}
