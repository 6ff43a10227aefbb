package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GeneratePaymentReference builds the merchant reference sent to the gateway.
// Format: RSP-<first 8 of booking id>-<unix nanos>-<16 random hex>. The random
// tail comes from crypto/rand so references cannot be guessed from a booking id.
func GeneratePaymentReference(bookingID uuid.UUID) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	prefix := strings.ToUpper(strings.ReplaceAll(bookingID.String(), "-", "")[:8])
	return fmt.Sprintf("RSP-%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf)), nil
}
