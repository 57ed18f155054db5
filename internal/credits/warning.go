package credits

// WarningLevel grades a balance warning.
type WarningLevel string

const (
	WarningSoft WarningLevel = "soft"
	WarningHard WarningLevel = "hard"
)

// PricingPath is where balance warnings redirect to.
const PricingPath = "/pricing"

// Warning is a balance notice for the user.
type Warning struct {
	Level      WarningLevel `json:"level"`
	Remaining  int          `json:"remaining"`
	Needed     int          `json:"needed"`
	ActionPath string       `json:"action_path,omitempty"`
}

// LowBalanceWarning grades the balance against the full workflow cost:
// hard with a redirect at zero, soft when positive but short.
func LowBalanceWarning(remaining, needed int) (Warning, bool) {
	switch {
	case remaining <= 0:
		return Warning{Level: WarningHard, Remaining: remaining, Needed: needed, ActionPath: PricingPath}, true
	case remaining < needed:
		return Warning{Level: WarningSoft, Remaining: remaining, Needed: needed}, true
	}
	return Warning{}, false
}

// InsufficientWarning is raised when an operation is blocked for lack of credits.
func InsufficientWarning(remaining, needed int) Warning {
	level := WarningSoft
	if remaining <= 0 {
		level = WarningHard
	}
	return Warning{Level: level, Remaining: remaining, Needed: needed, ActionPath: PricingPath}
}
