package mission

import (
	"encoding/json"

	"github.com/perkpoint/missions/src/api/errs"
	"github.com/perkpoint/missions/src/api/types"
)

// DefaultConfidenceThreshold applies to RECEIPT/INVENTORY judgments when the
// mission config does not set one.
const DefaultConfidenceThreshold = 0.7

type TimeWindowConfig struct {
	StartHour int      `json:"startHour"`
	EndHour   int      `json:"endHour"`
	Days      []string `json:"days"`
}

type DwellConfig struct {
	DurationMinutes int `json:"durationMinutes"`
}

type ReceiptConfig struct {
	TargetProductKey    string  `json:"targetProductKey"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

type InventoryConfig struct {
	AnswerImageURL      string  `json:"answerImageUrl"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

type StampConfig struct {
	RequiredCount int `json:"requiredCount"`
}

// ValidateConfig checks the per-type config document on definition
// create/update. Rejections name the offending field; nothing is coerced.
func ValidateConfig(missionType, configJSON string) error {
	switch missionType {
	case types.MissionTimeWindow:
		_, err := parseTimeWindow(configJSON)
		return err
	case types.MissionDwell:
		_, err := parseDwell(configJSON)
		return err
	case types.MissionReceipt:
		_, err := parseReceipt(configJSON)
		return err
	case types.MissionInventory:
		_, err := parseInventory(configJSON)
		return err
	case types.MissionStamp:
		_, err := parseStamp(configJSON)
		return err
	default:
		return errs.Validationf("unknown mission type: %s", missionType)
	}
}

func parseTimeWindow(configJSON string) (TimeWindowConfig, error) {
	var raw struct {
		StartHour *int      `json:"startHour"`
		EndHour   *int      `json:"endHour"`
		Days      *[]string `json:"days"`
	}
	if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
		return TimeWindowConfig{}, errs.Validationf("config is not valid JSON")
	}
	if raw.StartHour == nil {
		return TimeWindowConfig{}, errs.Validationf("config field 'startHour' is required")
	}
	if raw.EndHour == nil {
		return TimeWindowConfig{}, errs.Validationf("config field 'endHour' is required")
	}
	if *raw.StartHour < 0 || *raw.StartHour > 23 {
		return TimeWindowConfig{}, errs.Validationf("'startHour' must be 0..23 (got %d)", *raw.StartHour)
	}
	if *raw.EndHour < 1 || *raw.EndHour > 24 {
		return TimeWindowConfig{}, errs.Validationf("'endHour' must be 1..24 (got %d)", *raw.EndHour)
	}
	if *raw.StartHour >= *raw.EndHour {
		return TimeWindowConfig{}, errs.Validationf("'startHour' (%d) must be before 'endHour' (%d)", *raw.StartHour, *raw.EndHour)
	}
	if raw.Days == nil {
		return TimeWindowConfig{}, errs.Validationf("config field 'days' is required")
	}
	if len(*raw.Days) == 0 {
		return TimeWindowConfig{}, errs.Validationf("'days' must be a non-empty array of weekday codes (e.g. [\"MON\",\"TUE\"])")
	}
	return TimeWindowConfig{StartHour: *raw.StartHour, EndHour: *raw.EndHour, Days: *raw.Days}, nil
}

func parseDwell(configJSON string) (DwellConfig, error) {
	var raw struct {
		DurationMinutes *int `json:"durationMinutes"`
	}
	if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
		return DwellConfig{}, errs.Validationf("config is not valid JSON")
	}
	if raw.DurationMinutes == nil {
		return DwellConfig{}, errs.Validationf("config field 'durationMinutes' is required")
	}
	if *raw.DurationMinutes < 1 {
		return DwellConfig{}, errs.Validationf("'durationMinutes' must be >= 1 (got %d)", *raw.DurationMinutes)
	}
	return DwellConfig{DurationMinutes: *raw.DurationMinutes}, nil
}

func parseReceipt(configJSON string) (ReceiptConfig, error) {
	var raw struct {
		TargetProductKey    *string  `json:"targetProductKey"`
		ConfidenceThreshold *float64 `json:"confidenceThreshold"`
	}
	if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
		return ReceiptConfig{}, errs.Validationf("config is not valid JSON")
	}
	if raw.TargetProductKey == nil || *raw.TargetProductKey == "" {
		return ReceiptConfig{}, errs.Validationf("config field 'targetProductKey' must be a non-blank string")
	}
	cfg := ReceiptConfig{TargetProductKey: *raw.TargetProductKey, ConfidenceThreshold: DefaultConfidenceThreshold}
	if raw.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *raw.ConfidenceThreshold
	}
	return cfg, nil
}

func parseInventory(configJSON string) (InventoryConfig, error) {
	var raw struct {
		AnswerImageURL      *string  `json:"answerImageUrl"`
		ConfidenceThreshold *float64 `json:"confidenceThreshold"`
	}
	if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
		return InventoryConfig{}, errs.Validationf("config is not valid JSON")
	}
	if raw.AnswerImageURL == nil || *raw.AnswerImageURL == "" {
		return InventoryConfig{}, errs.Validationf("config field 'answerImageUrl' must be a non-blank URL")
	}
	cfg := InventoryConfig{AnswerImageURL: *raw.AnswerImageURL, ConfidenceThreshold: DefaultConfidenceThreshold}
	if raw.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *raw.ConfidenceThreshold
	}
	return cfg, nil
}

func parseStamp(configJSON string) (StampConfig, error) {
	var raw struct {
		RequiredCount *int `json:"requiredCount"`
	}
	if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
		return StampConfig{}, errs.Validationf("config is not valid JSON")
	}
	if raw.RequiredCount == nil {
		return StampConfig{}, errs.Validationf("config field 'requiredCount' is required")
	}
	if *raw.RequiredCount < 1 {
		return StampConfig{}, errs.Validationf("'requiredCount' must be >= 1 (got %d)", *raw.RequiredCount)
	}
	return StampConfig{RequiredCount: *raw.RequiredCount}, nil
}
