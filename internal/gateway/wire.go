package gateway

import (
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
)

// wireTransaction accepts the field spellings the Transaction Store has used
// across versions.
type wireTransaction struct {
	TransactionID      string     `json:"transactionId"`
	ID                 string     `json:"id"`
	MongoID            string     `json:"_id"`
	Status             string     `json:"status"`
	PaymentStatus      string     `json:"paymentStatus"`
	Message            string     `json:"message"`
	Reason             string     `json:"reason"`
	UserID             string     `json:"userId"`
	ContentID          string     `json:"contentId"`
	MovieID            string     `json:"movieId"`
	PaymentType        string     `json:"paymentType"`
	Amount             float64    `json:"amount"`
	Currency           string     `json:"currency"`
	AccessPeriod       string     `json:"accessPeriod"`
	SecureStreamingURL string     `json:"secureStreamingUrl"`
	SecureDownloadURL  string     `json:"secureDownloadUrl"`
	CreatedAt          time.Time  `json:"createdAt"`
	SettledAt          *time.Time `json:"settledAt"`
	CompletedAt        *time.Time `json:"completedAt"`
}

func (w *wireTransaction) id() string {
	switch {
	case w.TransactionID != "":
		return w.TransactionID
	case w.ID != "":
		return w.ID
	}
	return w.MongoID
}

func (w *wireTransaction) status() string {
	if w.Status != "" {
		return w.Status
	}
	return w.PaymentStatus
}

func (w *wireTransaction) message() string {
	if w.Reason != "" {
		return w.Reason
	}
	return w.Message
}

func (w *wireTransaction) toDetails(requestedID string) (TransactionDetails, error) {
	status, err := access.ParseGatewayStatus(w.status())
	if err != nil {
		return TransactionDetails{}, err
	}
	id := w.id()
	if id == "" {
		id = requestedID
	}
	contentID := w.ContentID
	if contentID == "" {
		contentID = w.MovieID
	}
	// Unknown payment types are tolerated on the details view.
	kind, _ := access.ParseKind(w.PaymentType)
	settled := w.SettledAt
	if settled == nil {
		settled = w.CompletedAt
	}
	return TransactionDetails{
		TransactionID:      id,
		UserID:             w.UserID,
		ContentID:          contentID,
		Kind:               kind,
		Amount:             int64(w.Amount + 0.5),
		Currency:           w.Currency,
		Period:             w.AccessPeriod,
		SecureStreamingURL: w.SecureStreamingURL,
		SecureDownloadURL:  w.SecureDownloadURL,
		PaymentStatus:      status,
		CreatedAt:          w.CreatedAt,
		SettledAt:          settled,
	}, nil
}

type wireEntitlement struct {
	ContentID     string     `json:"contentId"`
	MovieID       string     `json:"movieId"`
	Kind          string     `json:"kind"`
	PaymentType   string     `json:"paymentType"`
	GrantedAt     time.Time  `json:"grantedAt"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	TransactionID string     `json:"transactionId"`
}

type wireEntitlements struct {
	ServerTime   time.Time         `json:"serverTime"`
	Entitlements []wireEntitlement `json:"entitlements"`
}

func (w *wireEntitlements) toSnapshot(userID string) EntitlementSnapshot {
	snap := EntitlementSnapshot{ServerTime: w.ServerTime}
	for _, e := range w.Entitlements {
		raw := e.Kind
		if raw == "" {
			raw = e.PaymentType
		}
		kind, err := access.ParseKind(raw)
		if err != nil {
			continue
		}
		contentID := e.ContentID
		if contentID == "" {
			contentID = e.MovieID
		}
		snap.Entitlements = append(snap.Entitlements, access.Entitlement{
			UserID:        userID,
			ContentID:     contentID,
			Kind:          kind,
			GrantedAt:     e.GrantedAt,
			ExpiresAt:     e.ExpiresAt,
			TransactionID: e.TransactionID,
		})
	}
	return snap
}
