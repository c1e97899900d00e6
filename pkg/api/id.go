package api

import (
	"crypto/rand"
	"strings"
)

const (
	itemIDPrefix = "item_"
	callIDPrefix = "call_"

	// idSuffixLen is the number of random characters after the prefix.
	idSuffixLen = 24

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewItemID returns "item_" followed by 24 random alphanumerics.
func NewItemID() string {
	return newID(itemIDPrefix)
}

// NewCallID returns a tool call ID for models that do not supply one.
func NewCallID() string {
	return newID(callIDPrefix)
}

// ValidateItemID reports whether id has the shape produced by NewItemID.
func ValidateItemID(id string) bool {
	return hasIDShape(itemIDPrefix, id)
}

// ValidateCallID reports whether id has the shape produced by NewCallID.
func ValidateCallID(id string) bool {
	return hasIDShape(callIDPrefix, id)
}

func newID(prefix string) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + idSuffixLen)
	sb.WriteString(prefix)

	// Bytes at or above the largest multiple of len(alphabet) are
	// rejected so every character is equally likely.
	limit := byte(256 - 256%len(alphabet))
	buf := make([]byte, idSuffixLen*2)
	for n := 0; n < idSuffixLen; {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			sb.WriteByte(alphabet[int(b)%len(alphabet)])
			if n++; n == idSuffixLen {
				break
			}
		}
	}
	return sb.String()
}

func hasIDShape(prefix, id string) bool {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || len(suffix) != idSuffixLen {
		return false
	}
	for i := 0; i < len(suffix); i++ {
		if strings.IndexByte(alphabet, suffix[i]) < 0 {
			return false
		}
	}
	return true
}
