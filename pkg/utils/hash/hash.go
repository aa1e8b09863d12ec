package hash

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// HashString returns a short stable hex digest of s, used to derive
// per-pool directory names.
func HashString(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}
