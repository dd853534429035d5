package license

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Decision is the outcome of checking one license for one request. When
// Changed is set the caller must persist the license; Activity lists the
// audit rows to append.
type Decision struct {
	Allowed  bool
	Status   int
	Message  string
	Changed  bool
	Activity []Activity
}

func deny(status int, msg string) Decision {
	return Decision{Status: status, Message: msg}
}

// Evaluate runs the expiry state machine and the domain binding for lic as of
// now. It mutates lic in place; subs may be nil when billing is not
// configured.
func Evaluate(ctx context.Context, lic *License, requestedDomain string, now time.Time, subs SubscriptionChecker) Decision {
	if !lic.Active {
		return deny(http.StatusForbidden, "License suspended")
	}

	d := Decision{Status: http.StatusOK}
	deactivate := func(msg, action, desc string, meta map[string]any) Decision {
		lic.Active = false
		lic.UpdatedAt = now
		out := deny(http.StatusForbidden, msg)
		out.Changed = true
		out.Activity = append(d.Activity, Activity{Email: lic.Email, Action: action, Description: desc, Actor: "system", Metadata: meta})
		return out
	}

	if lic.Plan == PlanTrial && lic.TrialExpiresAt != nil && now.After(*lic.TrialExpiresAt) {
		return deactivate("Trial expired. Please subscribe to a plan to keep using the plugin.",
			ActionTrialExpired, "Trial expired, license deactivated",
			map[string]any{"expired_at": lic.TrialExpiresAt.UTC()})
	}

	if lic.Plan.Paid() {
		var sub *Subscription
		if lic.StripeSubscriptionID != "" && subs != nil {
			s, err := subs.Subscription(ctx, lic.StripeSubscriptionID)
			if err != nil {
				return deny(http.StatusForbidden, "Could not verify the subscription right now.")
			}
			if !s.Live() {
				return deactivate("Subscription canceled or inactive. Please renew your subscription.",
					ActionDeactivated, fmt.Sprintf("Subscription %s is %s", s.ID, s.Status),
					map[string]any{"subscription_status": s.Status})
			}
			if !s.CurrentPeriodEnd.IsZero() {
				end := s.CurrentPeriodEnd.UTC()
				if lic.PlanExpiresAt == nil || !lic.PlanExpiresAt.Equal(end) {
					lic.PlanExpiresAt = &end
					lic.UpdatedAt = now
					d.Changed = true
				}
			}
			sub = &s
		}

		if lic.PlanExpiresAt != nil && now.After(*lic.PlanExpiresAt) {
			// A live subscription with a known renewal keeps the license valid.
			if sub == nil || sub.CurrentPeriodEnd.IsZero() {
				return deactivate("Plan expired. Please renew your subscription.",
					ActionDeactivated, "Plan expired, license deactivated",
					map[string]any{"expired_at": lic.PlanExpiresAt.UTC()})
			}
		}
	}

	requested := NormalizeDomain(requestedDomain)
	if requested != "" && requested != "localhost" {
		switch {
		case lic.Domain == "":
			if !ValidDomain(requested) {
				d.Status, d.Message = http.StatusBadRequest, "Invalid domain format"
				return d
			}
			lic.Domain = requested
			lic.UpdatedAt = now
			d.Changed = true
			d.Activity = append(d.Activity, Activity{
				Email: lic.Email, Action: ActionDomainRegistered, Actor: "system",
				Description: "Domain registered automatically: " + requested,
				Metadata:    map[string]any{"domain": requested},
			})
		case !DomainAllowed(lic.Domain, requested):
			d.Status = http.StatusForbidden
			d.Message = fmt.Sprintf("License registered for another domain: %s. Current domain: %s", lic.Domain, requested)
			return d
		}
	}

	d.Allowed = true
	return d
}
