package risk

import (
	"fmt"
	"strings"
)

// weakScore is the factor score below which a targeted recommendation is added.
const weakScore = 0.5

var tierGuidance = map[Tier][]string{
	TierLow: {
		"Maintain current risk controls and continue periodic monitoring.",
	},
	TierMedium: {
		"Review medium-risk factors and schedule a follow-up assessment.",
		"Consider targeted mitigation for the weakest categories.",
	},
	TierHigh: {
		"Limit new exposure until high-risk factors are addressed.",
		"Require enhanced due diligence before new commitments.",
		"Reassess at a shorter interval.",
	},
	TierExtreme: {
		"Suspend new exposure pending a full risk review.",
		"Escalate to the risk committee immediately.",
		"Prepare an exit or remediation plan for existing exposure.",
	},
}

// Recommendations builds tier guidance plus one line per weak category and
// per weak metric.
func Recommendations(p *RiskProfile) []string {
	recs := append([]string(nil), tierGuidance[p.Tier]...)

	for _, c := range p.Categories {
		if c.Score < weakScore {
			recs = append(recs, fmt.Sprintf(
				"Improve %s risk: category score %.2f is below %.2f.", c.Category, c.Score, weakScore))
		}
		for _, m := range c.Metrics {
			if m.Score < weakScore {
				recs = append(recs, fmt.Sprintf(
					"Address %s (%s): normalized score %.2f.", m.Name, c.Category, m.Score))
			}
		}
	}

	if len(p.MissingCategories) > 0 {
		recs = append(recs, fmt.Sprintf(
			"Supply metrics for missing categories (%s) to raise confidence.",
			strings.Join(p.MissingCategories, ", ")))
	}
	return recs
}
