package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
)

// Purchase identifies one logical purchase. Two confirmations of the same
// purchase derive the same key, so a UI retry cannot charge twice.
type Purchase struct {
	UserID    string
	ContentID string
	Kind      access.Kind
	Period    string
	Plan      string
	Amount    int64
	Currency  string
	Phone     string
}

// Key returns the hex-encoded SHA-256 of the purchase fields.
func (p Purchase) Key() string {
	parts := []string{
		p.UserID,
		p.ContentID,
		string(p.Kind),
		p.Period,
		p.Plan,
		strconv.FormatInt(p.Amount, 10),
		strings.ToUpper(p.Currency),
		p.Phone,
	}
	return digest(strings.Join(parts, "|"))
}

// Rekey derives the key for the next attempt after settledTxID settled.
// The gateway would otherwise replay the earlier outcome forever: a decline
// would never be retried and a repeat purchase would never be charged.
func Rekey(key, settledTxID string) string {
	return digest(key + "|after:" + settledTxID)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
