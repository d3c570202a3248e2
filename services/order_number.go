package services

import (
	"strings"

	"github.com/google/uuid"
)

const orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxOrderNumberAttempts bounds the collision checks against existing orders.
const maxOrderNumberAttempts = 5

// GenerateOrderNumber returns PREFIX-XXXXXX-XXX drawn from [A-Z0-9]. The
// randomness comes from a v4 UUID; its version and variant bytes are skipped.
func GenerateOrderNumber(prefix string) string {
	id := uuid.New()
	random := append(id[0:6:6], id[9:12]...)

	var b strings.Builder
	b.Grow(len(prefix) + 11)
	b.WriteString(prefix)
	for i, v := range random {
		if i == 0 || i == 6 {
			b.WriteByte('-')
		}
		b.WriteByte(orderNumberAlphabet[int(v)%len(orderNumberAlphabet)])
	}
	return b.String()
}
