// Package item canonicalizes goods into an opaque blob and a content hash.
// The hash is the sole join key between listings, bans and fee overrides.
package item

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"market_go/internal/domain"
)

// Canonicalize serializes a stack with its quantity normalized to 1, so that
// semantically identical goods yield byte-identical output regardless of how
// many were held. JSON encoding keeps map keys sorted, which makes the result
// deterministic for arbitrary attribute sets.
func Canonicalize(stack domain.ItemStack) ([]byte, error) {
	stack.Quantity = 1
	data, err := json.Marshal(stack)
	if err != nil {
		return nil, fmt.Errorf("canonicalize item: %w", err)
	}
	return data, nil
}

// Hash computes the hex-encoded SHA-256 digest of a canonical blob.
func Hash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Identity is the common canonicalize-then-hash path for an incoming stack.
func Identity(stack domain.ItemStack) (hash string, canonical []byte, err error) {
	canonical, err = Canonicalize(stack)
	if err != nil {
		return "", nil, err
	}
	return Hash(canonical), canonical, nil
}

// Decode restores a stack from its stored canonical blob. A blob that no
// longer parses surfaces as ErrDataCorruption, never a panic.
func Decode(canonical []byte) (domain.ItemStack, error) {
	var stack domain.ItemStack
	if err := json.Unmarshal(canonical, &stack); err != nil {
		return domain.ItemStack{}, fmt.Errorf("%w: %v", domain.ErrDataCorruption, err)
	}
	if stack.MaterialKind == "" {
		return domain.ItemStack{}, fmt.Errorf("%w: missing material kind", domain.ErrDataCorruption)
	}
	return stack, nil
}

// IsHash reports whether s looks like a content hash rather than a material
// kind. Used when interpreting mixed ban-list entries.
func IsHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
