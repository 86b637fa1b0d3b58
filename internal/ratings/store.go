// Package ratings holds human ratings submitted for rendered artifacts until
// the rating-mode evaluator consumes them.
package ratings

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidIdentifier = errors.New("artifact identifier has no trailing index")

var trailingIndex = regexp.MustCompile(`(\d+)$`)

// Entry is one submitted rating.
type Entry struct {
	Artifact string `json:"artifact"`
	Index    int    `json:"index"`
	Rating   int    `json:"rating"`
}

// Store maps artifact identifiers to ratings. Consume is destructive: it
// removes and returns the entry with the smallest trailing index, so ratings
// are drained in index order. Implementations are safe for concurrent use.
type Store interface {
	Submit(ctx context.Context, artifact string, rating int) error
	Consume(ctx context.Context) (Entry, bool, error)
	Len(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

// ParseIndex extracts the trailing numeric index of an artifact identifier
// such as "1718000000/3/major-C-12.mid" (12). Directory prefixes and a file
// extension are ignored.
func ParseIndex(artifact string) (int, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(artifact), "\\", "/"))
	if ext := path.Ext(name); ext != "" && !isDigits(ext[1:]) {
		name = strings.TrimSuffix(name, ext)
	}
	match := trailingIndex.FindString(name)
	if match == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, artifact)
	}
	index, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, artifact)
	}
	return index, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// less orders entries by index, then identifier, matching the order a Redis
// sorted set uses for equal scores.
func less(a, b Entry) bool {
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.Artifact < b.Artifact
}
