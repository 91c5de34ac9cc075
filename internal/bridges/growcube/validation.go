package growcube

import (
	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

// Argument limits for device actions.
const (
	MinWaterDuration = 1
	MaxWaterDuration = 60

	MinMoistureThreshold = 1
	MaxMoistureThreshold = 100

	// DefaultWaterDuration is used when a water request omits the duration.
	DefaultWaterDuration = 5

	// Smart watering defaults when thresholds are omitted.
	DefaultSmartMin = 15
	DefaultSmartMax = 40
)

// ValidateChannel parses a channel label. "A".."D" and the lowercase
// letters used in entity keys and topics are accepted; nothing else is.
func ValidateChannel(label string) (growcubeclient.Channel, error) {
	ch, err := growcubeclient.ParseChannel(label)
	if err != nil {
		return 0, &ValidationError{Field: "channel", Value: label, Message: "must be one of A, B, C, D"}
	}
	return ch, nil
}

// ValidateWaterPlant checks a water request.
func ValidateWaterPlant(channel string, duration int) (growcubeclient.Channel, error) {
	ch, err := ValidateChannel(channel)
	if err != nil {
		return 0, err
	}
	if duration < MinWaterDuration || duration > MaxWaterDuration {
		return 0, &ValidationError{Field: "duration", Value: duration, Message: "must be between 1 and 60 seconds"}
	}
	return ch, nil
}

// ValidateWateringRange checks smart watering thresholds.
func ValidateWateringRange(channel string, minValue, maxValue int) (growcubeclient.Channel, error) {
	ch, err := ValidateChannel(channel)
	if err != nil {
		return 0, err
	}
	if minValue < MinMoistureThreshold || minValue > MaxMoistureThreshold {
		return 0, &ValidationError{Field: "min_value", Value: minValue, Message: "must be between 1 and 100"}
	}
	if maxValue < MinMoistureThreshold || maxValue > MaxMoistureThreshold {
		return 0, &ValidationError{Field: "max_value", Value: maxValue, Message: "must be between 1 and 100"}
	}
	if maxValue <= minValue {
		return 0, &ValidationError{Field: "max_value", Value: maxValue, Message: "must be greater than min_value"}
	}
	return ch, nil
}
