package route

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ConditionKind names what a standing alert watches.
type ConditionKind string

const (
	// ConditionFeeBelow fires when the best route fee drops under Threshold USD.
	ConditionFeeBelow ConditionKind = "fee_below"
	// ConditionPriceBelow fires when the asset's USD price drops under Threshold.
	ConditionPriceBelow ConditionKind = "price_below"
	// ConditionPriceAbove fires when the asset's USD price rises over Threshold.
	ConditionPriceAbove ConditionKind = "price_above"
	// ConditionGasBelow fires when the network gas price drops under Threshold gwei.
	ConditionGasBelow ConditionKind = "gas_below"
)

// Condition is a predicate over a market observable.
type Condition struct {
	Kind      ConditionKind   `json:"kind"`
	Threshold decimal.Decimal `json:"threshold"`
	// Scope carries the route for fee conditions.
	Scope RouteRequest `json:"scope"`
}

// Satisfied reports whether current meets the condition.
func (c Condition) Satisfied(current decimal.Decimal) bool {
	switch c.Kind {
	case ConditionFeeBelow, ConditionPriceBelow, ConditionGasBelow:
		return current.LessThan(c.Threshold)
	case ConditionPriceAbove:
		return current.GreaterThan(c.Threshold)
	}
	return false
}

// Validate checks that the scope carries what the kind needs.
func (c Condition) Validate() error {
	if c.Threshold.IsNegative() {
		return fmt.Errorf("threshold %s is negative", c.Threshold)
	}
	switch c.Kind {
	case ConditionFeeBelow:
		if c.Scope.Source == "" || c.Scope.Destination == "" || c.Scope.Asset == "" || !c.Scope.Amount.IsPositive() {
			return fmt.Errorf("fee_below needs a full route scope")
		}
	case ConditionPriceBelow, ConditionPriceAbove:
		if c.Scope.Asset == "" {
			return fmt.Errorf("%s needs an asset", c.Kind)
		}
	case ConditionGasBelow:
		if c.Scope.Source == "" {
			return fmt.Errorf("gas_below needs a network")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

func (c Condition) String() string {
	switch c.Kind {
	case ConditionFeeBelow:
		return fmt.Sprintf("fee below $%s for %s", c.Threshold, c.Scope)
	case ConditionPriceBelow:
		return fmt.Sprintf("%s price below $%s", c.Scope.Asset, c.Threshold)
	case ConditionPriceAbove:
		return fmt.Sprintf("%s price above $%s", c.Scope.Asset, c.Threshold)
	case ConditionGasBelow:
		return fmt.Sprintf("%s gas below %s gwei", c.Scope.Source, c.Threshold)
	}
	return string(c.Kind)
}

// AlertAction decides what happens when a standing alert fires.
type AlertAction string

const (
	ActionNotify      AlertAction = "notify"
	ActionAutoExecute AlertAction = "auto_execute"
)

// ParseAlertAction maps input onto an AlertAction, defaulting to notify.
func ParseAlertAction(s string) (AlertAction, error) {
	switch AlertAction(strings.ToLower(strings.TrimSpace(s))) {
	case "", ActionNotify:
		return ActionNotify, nil
	case ActionAutoExecute, "auto", "execute":
		return ActionAutoExecute, nil
	}
	return "", fmt.Errorf("unknown alert action %q", s)
}
