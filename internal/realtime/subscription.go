package realtime

import (
	"net/http"
	"slices"

	"github.com/mbd888/riskscope/internal/alerts"
)

// Subscription narrows the events a client receives. The zero value with
// AllEvents unset and no filters still matches everything.
type Subscription struct {
	AllEvents   bool            `json:"allEvents"`
	EventTypes  []EventType     `json:"eventTypes"`
	EntityIDs   []string        `json:"entityIds"`
	Tiers       []string        `json:"tiers"`       // assessment events only
	MinSeverity alerts.Severity `json:"minSeverity"` // alert events only
}

// Matches reports whether ev passes every filter in s.
func (s Subscription) Matches(ev *Event) bool {
	switch {
	case s.AllEvents:
		return true
	case len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, ev.Type):
		return false
	case len(s.EntityIDs) > 0 && !slices.Contains(s.EntityIDs, ev.EntityID):
		return false
	case len(s.Tiers) > 0 && ev.Type == EventAssessed && !slices.Contains(s.Tiers, ev.Tier):
		return false
	case s.MinSeverity != "" && ev.Severity != "" && !ev.Severity.AtLeast(s.MinSeverity):
		return false
	}
	return true
}

// subscriptionFromQuery seeds a subscription from ?entity=, ?type= and
// ?minSeverity=. With none present the client gets everything.
func subscriptionFromQuery(r *http.Request) Subscription {
	q := r.URL.Query()
	sub := Subscription{
		EntityIDs:   q["entity"],
		MinSeverity: alerts.Severity(q.Get("minSeverity")),
	}
	for _, t := range q["type"] {
		sub.EventTypes = append(sub.EventTypes, EventType(t))
	}
	sub.AllEvents = len(sub.EntityIDs) == 0 && len(sub.EventTypes) == 0 && sub.MinSeverity == ""
	return sub
}
