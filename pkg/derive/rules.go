package derive

import "fmt"

// Step maps counts strictly below Below to Value.
type Step struct {
	Below int
	Value int
}

// Default rule constants. They were tuned by eye, not calibrated against
// agency data, so every one of them lives in Rules and can be overridden.
const (
	ETABaseMinMinutes = 4
	ETABaseMaxMinutes = 10

	ETAHeavyCars       = 28
	ETAHeavyPenalty    = 6
	ETAModerateCars    = 18
	ETAModeratePenalty = 3

	SubwayThresholdCars    = 25
	SecondaryThresholdCars = 15

	FreeFlowSpeedMph = 18
	CongestedSpeed   = 4
	DelayPerMphLost  = 0.8

	MaxDelayMinutes = 10
)

// Alt-route wording.
const (
	HeavyActionFormat    = "Heavy congestion detected. Recommend switching to %s."
	ModerateActionFormat = "Moderate congestion. Consider %s."
	NormalAction         = "Traffic conditions are normal."
)

// Rules holds the tunable thresholds of the derived views.
type Rules struct {
	ETABaseMin         int
	ETABaseMax         int
	ETAHeavyCars       int
	ETAHeavyPenalty    int
	ETAModerateCars    int
	ETAModeratePenalty int

	// DelaySteps is evaluated in order; counts past the last step get MaxDelay.
	DelaySteps []Step
	MaxDelay   int

	SubwayCars    int
	SecondaryCars int

	// SpeedSteps is evaluated in order; counts past the last step get CongestedSpeed.
	SpeedSteps      []Step
	CongestedSpeed  int
	FreeFlowSpeed   int
	DelayPerMphLost float64
}

// DefaultRules returns the stock rule set.
func DefaultRules() Rules {
	return Rules{
		ETABaseMin:         ETABaseMinMinutes,
		ETABaseMax:         ETABaseMaxMinutes,
		ETAHeavyCars:       ETAHeavyCars,
		ETAHeavyPenalty:    ETAHeavyPenalty,
		ETAModerateCars:    ETAModerateCars,
		ETAModeratePenalty: ETAModeratePenalty,

		DelaySteps: []Step{{Below: 10, Value: 0}, {Below: 20, Value: 2}, {Below: 30, Value: 5}},
		MaxDelay:   MaxDelayMinutes,

		SubwayCars:    SubwayThresholdCars,
		SecondaryCars: SecondaryThresholdCars,

		SpeedSteps:      []Step{{Below: 10, Value: 18}, {Below: 18, Value: 12}, {Below: 28, Value: 8}},
		CongestedSpeed:  CongestedSpeed,
		FreeFlowSpeed:   FreeFlowSpeedMph,
		DelayPerMphLost: DelayPerMphLost,
	}
}

// Validate checks that the rule set is usable.
func (r Rules) Validate() error {
	if r.ETABaseMin < 0 || r.ETABaseMax < r.ETABaseMin {
		return fmt.Errorf("invalid ETA base range [%d,%d]", r.ETABaseMin, r.ETABaseMax)
	}
	if err := validateSteps("delay", r.DelaySteps); err != nil {
		return err
	}
	if err := validateSteps("speed", r.SpeedSteps); err != nil {
		return err
	}
	if r.DelayPerMphLost < 0 {
		return fmt.Errorf("delay per mph must be non-negative, got %v", r.DelayPerMphLost)
	}
	return nil
}

func validateSteps(name string, steps []Step) error {
	for i := 1; i < len(steps); i++ {
		if steps[i].Below <= steps[i-1].Below {
			return fmt.Errorf("%s steps must have increasing bounds (step %d)", name, i)
		}
	}
	return nil
}

func lookup(steps []Step, cars, fallback int) int {
	for _, s := range steps {
		if cars < s.Below {
			return s.Value
		}
	}
	return fallback
}
