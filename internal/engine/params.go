package engine

import "fmt"

// Params configures one simulation. Probabilities are per tick.
type Params struct {
	Population        int     `json:"population"`
	Seed              int64   `json:"seed"` // 0 = draw from crypto/rand
	RingDegree        int     `json:"ring_degree"`
	RewireProbability float64 `json:"rewire_probability"` // one-shot pass at setup

	Friendliness     float64 `json:"friendliness"` // 0–100, biases reconnection
	Skepticism       float64 `json:"skepticism"`   // 0–100, biases accusation acceptance
	ScapegoatEnabled bool    `json:"scapegoat_enabled"`

	// TickBudget forces a full re-setup after this many ticks. 0 disables it.
	TickBudget int `json:"tick_budget"`

	// VictimThreshold is the percentage of the live population that must hold
	// the Victim role before a ritual can start.
	VictimThreshold float64 `json:"victim_threshold"`

	// Structural thresholds.
	LowDegree     int `json:"low_degree"`     // "isolated enough" for a failed accusation
	WindowMin     int `json:"window_min"`     // accusation distance window, hops
	WindowMax     int `json:"window_max"`
	RepairDegree  int `json:"repair_degree"`  // agents at or below this degree try to reconnect
	RevivalDegree int `json:"revival_degree"` // links a revived agent gets

	// CheckInvariants makes Step return an error on any invariant violation.
	CheckInvariants bool `json:"check_invariants"`

	Rates Rates `json:"rates"`
}

// Rates holds the stochastic rule probabilities and magnitudes.
// PollutionRelief is the chance of a tension decrease at low pollution and
// PollutionDrift the chance of an increase at pollution level 2.
type Rates struct {
	EdgeDrop           float64 `json:"edge_drop"`
	EdgeAdd            float64 `json:"edge_add"`
	Revival            float64 `json:"revival"`
	SpontaneousTension float64 `json:"spontaneous_tension"`
	Propagation        float64 `json:"propagation"`
	PollutionStep      float64 `json:"pollution_step"`
	PollutionRelief    float64 `json:"pollution_relief"`
	PollutionDrift     float64 `json:"pollution_drift"`

	HealthRegen     float64 `json:"health_regen"`
	Attrition       float64 `json:"attrition"`
	AttritionDamage float64 `json:"attrition_damage"`

	AccusationDamage       float64 `json:"accusation_damage"`
	FailedAccusationDamage float64 `json:"failed_accusation_damage"`
	UnconditionalAccept    float64 `json:"unconditional_accept"`

	Prune float64 `json:"prune"`
}

// DefaultParams returns the parameters of the reference model.
func DefaultParams() Params {
	return Params{
		Population:        100,
		Seed:              42,
		RingDegree:        4,
		RewireProbability: 0,
		Friendliness:      50,
		Skepticism:        50,
		ScapegoatEnabled:  true,
		TickBudget:        2000,
		VictimThreshold:   10,
		LowDegree:         3,
		WindowMin:         2,
		WindowMax:         6,
		RepairDegree:      1,
		RevivalDegree:     4,
		Rates: Rates{
			EdgeDrop:               0.07,
			EdgeAdd:                0.07,
			Revival:                0.05,
			SpontaneousTension:     0.02,
			Propagation:            0.2,
			PollutionStep:          0.1,
			PollutionRelief:        0.1,
			PollutionDrift:         0.05,
			HealthRegen:            0.1,
			Attrition:              0.3,
			AttritionDamage:        0.5,
			AccusationDamage:       1.0,
			FailedAccusationDamage: 0.5,
			UnconditionalAccept:    0.02,
			Prune:                  0.1,
		},
	}
}

// Validate checks that the parameters describe a buildable simulation.
func (p Params) Validate() error {
	if p.Population < 3 {
		return fmt.Errorf("population must be at least 3, got %d", p.Population)
	}
	if p.RingDegree <= 0 || p.RingDegree%2 != 0 || p.RingDegree >= p.Population {
		return fmt.Errorf("ring_degree must be even, positive and below population, got %d", p.RingDegree)
	}
	if p.Friendliness < 0 || p.Friendliness > 100 {
		return fmt.Errorf("friendliness must be between 0 and 100, got %v", p.Friendliness)
	}
	if p.Skepticism < 0 || p.Skepticism > 100 {
		return fmt.Errorf("skepticism must be between 0 and 100, got %v", p.Skepticism)
	}
	if p.VictimThreshold < 0 || p.VictimThreshold > 100 {
		return fmt.Errorf("victim_threshold must be between 0 and 100, got %v", p.VictimThreshold)
	}
	if p.TickBudget < 0 {
		return fmt.Errorf("tick_budget must be non-negative, got %d", p.TickBudget)
	}
	if p.WindowMin < 1 || p.WindowMax < p.WindowMin {
		return fmt.Errorf("distance window [%d,%d] is invalid", p.WindowMin, p.WindowMax)
	}
	if p.RevivalDegree < 1 {
		return fmt.Errorf("revival_degree must be positive, got %d", p.RevivalDegree)
	}

	probs := map[string]float64{
		"rewire_probability":   p.RewireProbability,
		"edge_drop":            p.Rates.EdgeDrop,
		"edge_add":             p.Rates.EdgeAdd,
		"revival":              p.Rates.Revival,
		"spontaneous_tension":  p.Rates.SpontaneousTension,
		"propagation":          p.Rates.Propagation,
		"pollution_step":       p.Rates.PollutionStep,
		"pollution_relief":     p.Rates.PollutionRelief,
		"pollution_drift":      p.Rates.PollutionDrift,
		"attrition":            p.Rates.Attrition,
		"unconditional_accept": p.Rates.UnconditionalAccept,
		"prune":                p.Rates.Prune,
	}
	for name, v := range probs {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be a probability in [0,1], got %v", name, v)
		}
	}
	return nil
}
