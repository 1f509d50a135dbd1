// Package access defines the vocabulary shared by pricing, payments and the
// entitlement resolver: what a viewer can buy and what a grant looks like.
package access

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the category of entitlement a purchase grants.
type Kind string

const (
	// Watch is time-boxed streaming of a single title.
	Watch Kind = "watch"
	// Download is a permanent file download.
	Download Kind = "download"
	// SeriesAccess covers every episode of a series for a purchased period.
	SeriesAccess Kind = "seriesAccess"
	// SubscriptionUpgrade is an account-level plan purchase.
	SubscriptionUpgrade Kind = "subscriptionUpgrade"
)

// ErrUnknownKind is returned by ParseKind for unrecognised payment types.
var ErrUnknownKind = errors.New("access: unknown access kind")

// legacyKinds maps every payment-type spelling seen from clients and the
// Transaction Store onto the canonical Kind.
var legacyKinds = map[string]Kind{
	"watch":                Watch,
	"movie_watch":          Watch,
	"download":             Download,
	"movie_download":       Download,
	"series":               SeriesAccess,
	"series_access":        SeriesAccess,
	"seriesaccess":         SeriesAccess,
	"upgrade":              SubscriptionUpgrade,
	"subscription_upgrade": SubscriptionUpgrade,
	"subscriptionupgrade":  SubscriptionUpgrade,
}

// ParseKind normalizes a payment-type string. Matching is case-insensitive.
func ParseKind(raw string) (Kind, error) {
	k, ok := legacyKinds[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return k, nil
}

// Valid reports whether k is one of the canonical kinds.
func (k Kind) Valid() bool {
	switch k {
	case Watch, Download, SeriesAccess, SubscriptionUpgrade:
		return true
	}
	return false
}

// IsContentScoped reports whether the grant attaches to a single content id
// rather than the whole account.
func (k Kind) IsContentScoped() bool {
	return k != SubscriptionUpgrade
}

// PlanContentID is the content id under which account-level plan grants are stored.
func PlanContentID(plan string) string {
	return "plan:" + plan
}

// ParsePeriod converts a series period label ("24h", "7d", "30d") to a duration.
func ParsePeriod(label string) (time.Duration, error) {
	label = strings.TrimSpace(strings.ToLower(label))
	if len(label) < 2 {
		return 0, fmt.Errorf("access: invalid period %q", label)
	}
	n, err := strconv.Atoi(label[:len(label)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("access: invalid period %q", label)
	}
	switch label[len(label)-1] {
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("access: invalid period %q", label)
}

// GatewayStatus is the Transaction Store's view of a charge.
type GatewayStatus string

const (
	StatusPending    GatewayStatus = "PENDING"
	StatusSuccessful GatewayStatus = "SUCCESSFUL"
	StatusFailed     GatewayStatus = "FAILED"
)

// ParseGatewayStatus accepts the spellings used by mobile-money providers.
func ParseGatewayStatus(raw string) (GatewayStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "PROCESSING", "INITIATED":
		return StatusPending, nil
	case "SUCCESSFUL", "SUCCESS", "SUCCEEDED", "COMPLETED":
		return StatusSuccessful, nil
	case "FAILED", "FAILURE", "DECLINED", "REJECTED", "CANCELLED", "EXPIRED":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("access: unknown gateway status %q", raw)
}

// Terminal reports whether the status has left PENDING.
func (s GatewayStatus) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// Entitlement is a durable grant of access. A nil ExpiresAt is permanent.
type Entitlement struct {
	UserID        string     `json:"userId"`
	ContentID     string     `json:"contentId"`
	Kind          Kind       `json:"kind"`
	GrantedAt     time.Time  `json:"grantedAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
}

// ActiveAt reports whether the grant confers access at now. Expiry is exclusive.
func (e Entitlement) ActiveAt(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// Viewer identifies who is asking for access. An empty UserID is a guest.
type Viewer struct {
	UserID string
}

// Guest is the anonymous viewer.
var Guest = Viewer{}

// IsGuest reports whether the viewer is unauthenticated.
func (v Viewer) IsGuest() bool {
	return strings.TrimSpace(v.UserID) == ""
}
