package mission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perkpoint/missions/src/api/errs"
	"github.com/perkpoint/missions/src/api/types"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		missionType string
		config      string
		wantErr     string
	}{
		{"time window valid", types.MissionTimeWindow, `{"startHour":15,"endHour":17,"days":["MON","TUE"]}`, ""},
		{"time window start after end", types.MissionTimeWindow, `{"startHour":18,"endHour":10,"days":["MON"]}`, "startHour"},
		{"time window start equals end", types.MissionTimeWindow, `{"startHour":10,"endHour":10,"days":["MON"]}`, "startHour"},
		{"time window missing days", types.MissionTimeWindow, `{"startHour":9,"endHour":12}`, "days"},
		{"time window empty days", types.MissionTimeWindow, `{"startHour":9,"endHour":12,"days":[]}`, "days"},
		{"time window hour out of range", types.MissionTimeWindow, `{"startHour":-1,"endHour":12,"days":["MON"]}`, "startHour"},
		{"time window end out of range", types.MissionTimeWindow, `{"startHour":0,"endHour":25,"days":["MON"]}`, "endHour"},
		{"dwell valid", types.MissionDwell, `{"durationMinutes":10}`, ""},
		{"dwell zero duration", types.MissionDwell, `{"durationMinutes":0}`, "durationMinutes"},
		{"dwell missing duration", types.MissionDwell, `{}`, "durationMinutes"},
		{"receipt valid", types.MissionReceipt, `{"targetProductKey":"americano"}`, ""},
		{"receipt blank product", types.MissionReceipt, `{"targetProductKey":""}`, "targetProductKey"},
		{"inventory valid", types.MissionInventory, `{"answerImageUrl":"https://img.example.com/a.jpg"}`, ""},
		{"inventory missing url", types.MissionInventory, `{}`, "answerImageUrl"},
		{"stamp valid", types.MissionStamp, `{"requiredCount":3}`, ""},
		{"stamp zero count", types.MissionStamp, `{"requiredCount":0}`, "requiredCount"},
		{"not json", types.MissionStamp, `{nope`, "JSON"},
		{"unknown type", "SCAVENGER", `{}`, "unknown mission type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.missionType, tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfidenceThresholdDefault(t *testing.T) {
	receipt, err := parseReceipt(`{"targetProductKey":"latte"}`)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfidenceThreshold, receipt.ConfidenceThreshold)

	receipt, err = parseReceipt(`{"targetProductKey":"latte","confidenceThreshold":0.9}`)
	require.NoError(t, err)
	assert.Equal(t, 0.9, receipt.ConfidenceThreshold)

	inv, err := parseInventory(`{"answerImageUrl":"https://img.example.com/a.jpg"}`)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfidenceThreshold, inv.ConfidenceThreshold)
}
