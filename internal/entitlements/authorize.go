package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
)

// Action is something a viewer asks to do with a title.
type Action string

const (
	ActionTrailer      Action = "trailer"
	ActionStream       Action = "stream"
	ActionDownload     Action = "download"
	ActionBrowseSeries Action = "browseSeries"
)

// ParseAction validates a client-supplied action.
func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case ActionTrailer, ActionStream, ActionDownload, ActionBrowseSeries:
		return a, nil
	}
	return "", fmt.Errorf("entitlements: unknown action %q", raw)
}

// Route tells the presentation layer where to send the viewer next.
type Route string

const (
	RouteNone           Route = ""
	RouteSignIn         Route = "signIn"
	RoutePurchase       Route = "purchase"
	RouteGuestTrial     Route = "guestTrial"
	RouteTrailerPreview Route = "trailerPreview"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Action  Action `json:"action"`
	Route   Route  `json:"route,omitempty"`
	// Limited marks allowances metered by a guest countdown.
	Limited   bool        `json:"limited,omitempty"`
	Kind      access.Kind `json:"kind,omitempty"`
	Source    Source      `json:"source,omitempty"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// ErrNotSeries is returned when series browsing is requested for a movie.
var ErrNotSeries = errors.New("entitlements: content is not a series")

// Authorize maps a viewer action on contentID to a Decision. The catalog is
// consulted when configured so free titles and series checks are honoured.
func (r *Resolver) Authorize(ctx context.Context, viewer access.Viewer, contentID string, action Action) (Decision, error) {
	d, err := r.authorize(ctx, viewer, contentID, action)
	if err != nil {
		r.metrics.ObserveAccessCheck(string(action), "error")
		return Decision{}, err
	}
	outcome := "denied"
	if d.Allowed {
		outcome = "allowed"
		if d.Limited {
			outcome = "limited"
		}
	}
	r.metrics.ObserveAccessCheck(string(action), outcome)
	return d, nil
}

func (r *Resolver) authorize(ctx context.Context, viewer access.Viewer, contentID string, action Action) (Decision, error) {
	d := Decision{Action: action}

	var content *catalog.Content
	if r.catalog != nil {
		c, err := r.catalog.GetContent(ctx, contentID)
		if err != nil {
			return Decision{}, err
		}
		content = &c
	}

	if action == ActionTrailer {
		d.Allowed = true
		if viewer.IsGuest() {
			d.Route = RouteTrailerPreview
			d.Limited = true
		}
		return d, nil
	}

	if content != nil && content.IsFree() {
		d.Allowed = true
		d.Source = SourceFree
		return d, nil
	}

	var kinds []access.Kind
	switch action {
	case ActionStream:
		kinds = streamKinds
	case ActionDownload:
		kinds = []access.Kind{access.Download}
	case ActionBrowseSeries:
		if content != nil && !content.IsSeries() {
			return Decision{}, ErrNotSeries
		}
		kinds = []access.Kind{access.SeriesAccess}
	default:
		return Decision{}, fmt.Errorf("entitlements: unknown action %q", action)
	}

	if viewer.IsGuest() {
		// Guests may sample a full title through the trial allowance only.
		if action == ActionStream {
			d.Allowed = true
			d.Limited = true
			d.Route = RouteGuestTrial
			return d, nil
		}
		d.Route = RouteSignIn
		d.Reason = "sign in to purchase access"
		return d, nil
	}

	grant, ok, err := r.Lookup(ctx, viewer, contentID, kinds...)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		d.Route = RoutePurchase
		d.Reason = "no active entitlement"
		return d, nil
	}
	d.Allowed = true
	d.Kind = grant.Kind
	d.Source = grant.Source
	d.ExpiresAt = grant.ExpiresAt
	return d, nil
}
