// Package codegen allocates short human-shareable codes (order codes, product
// codes) that must not collide with codes already stored.
package codegen

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

const (
	orderCodeBytes    = 6
	productCodePrefix = "PROD-"
	productCodeLen    = 8
	base36            = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// CandidateFunc produces a fresh random candidate.
type CandidateFunc func() (string, error)

// ExistsFunc reports whether a candidate is already taken.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Unique draws candidates until one is unused. maxAttempts <= 0 means no cap.
func Unique(ctx context.Context, candidate CandidateFunc, exists ExistsFunc, maxAttempts int) (string, error) {
	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := candidate()
		if err != nil {
			return "", fmt.Errorf("generate candidate: %w", err)
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", apperr.Newf(apperr.CodeExhaustedRetries, "no unused code after %d attempts", maxAttempts)
}

// OrderCode returns 12 uppercase hex characters.
func OrderCode() (string, error) {
	b := make([]byte, orderCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// ProductCode returns PROD- followed by 8 uppercase base36 characters.
func ProductCode() (string, error) {
	var sb strings.Builder
	sb.WriteString(productCodePrefix)
	radix := big.NewInt(int64(len(base36)))
	for i := 0; i < productCodeLen; i++ {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			return "", err
		}
		sb.WriteByte(base36[n.Int64()])
	}
	return sb.String(), nil
}
