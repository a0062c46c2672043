package stress

// DefaultLibraryVersion identifies the built-in scenario set.
const DefaultLibraryVersion = "2026.1"

// DefaultLibrary returns the built-in scenario set. Impacts are fractions of
// exposure lost by an entity with a zero composite score.
func DefaultLibrary() Library {
	return Library{
		Version: DefaultLibraryVersion,
		Scenarios: []Scenario{
			{
				Name:             "market_crash",
				Description:      "Broad equity and credit market drawdown",
				BaseProbability:  0.10,
				BaseImpact:       0.35,
				BaseRecoveryDays: 180,
			},
			{
				Name:             "supply_chain_disruption",
				Description:      "Loss of key suppliers or logistics routes",
				BaseProbability:  0.15,
				BaseImpact:       0.25,
				BaseRecoveryDays: 120,
			},
			{
				Name:             "regulatory_change",
				Description:      "Adverse change in licensing or reporting rules",
				BaseProbability:  0.20,
				BaseImpact:       0.15,
				BaseRecoveryDays: 90,
			},
			{
				Name:             "cyber_attack",
				Description:      "Breach or ransomware outage",
				BaseProbability:  0.12,
				BaseImpact:       0.20,
				BaseRecoveryDays: 60,
			},
			{
				Name:             "geopolitical_crisis",
				Description:      "Sanctions, conflict or expropriation in an operating region",
				BaseProbability:  0.08,
				BaseImpact:       0.30,
				BaseRecoveryDays: 240,
			},
			{
				Name:             "pandemic",
				Description:      "Prolonged demand and workforce shock",
				BaseProbability:  0.05,
				BaseImpact:       0.40,
				BaseRecoveryDays: 365,
			},
			{
				Name:             "currency_crisis",
				Description:      "Sharp devaluation of an operating currency",
				BaseProbability:  0.07,
				BaseImpact:       0.25,
				BaseRecoveryDays: 150,
			},
			{
				Name:             "commodity_price_shock",
				Description:      "Input cost spike or output price collapse",
				BaseProbability:  0.10,
				BaseImpact:       0.20,
				BaseRecoveryDays: 90,
			},
		},
	}
}
