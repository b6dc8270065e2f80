package protocol

import (
	"strings"
	"testing"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/state"
)

func TestParseCommandRejectsOversizedPayload(t *testing.T) {
	huge := `{"temp_min":` + strings.Repeat("1", MaxCommandPayloadBytes) + `}`
	_, err := ParseCommand([]byte(huge))
	if err == nil {
		t.Fatal("expected oversized payload to be dropped")
	}
}

func TestParseCommandFieldSynonyms(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"min_temp":18,"max_temp":29,"max_hum":80}`))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.TempMin == nil || *cmd.TempMin != 18 {
		t.Fatalf("min_temp synonym not applied, got %v", cmd.TempMin)
	}
	if cmd.TempMax == nil || *cmd.TempMax != 29 {
		t.Fatalf("max_temp synonym not applied, got %v", cmd.TempMax)
	}
	if cmd.HumMax == nil || *cmd.HumMax != 80 {
		t.Fatalf("max_hum synonym not applied, got %v", cmd.HumMax)
	}
}

func TestParseCommandModeCaseInsensitiveAndNumeric(t *testing.T) {
	for _, raw := range []string{`"auto"`, `"AUTO"`, `"0"`, `0`} {
		cmd, err := ParseCommand([]byte(`{"mode":` + raw + `}`))
		if err != nil {
			t.Fatalf("ParseCommand(%s): %v", raw, err)
		}
		if cmd.Mode == nil || *cmd.Mode != state.ModeAuto {
			t.Fatalf("mode value %s should parse as AUTO, got %v", raw, cmd.Mode)
		}
	}
	for _, raw := range []string{`"manual"`, `"MANUAL"`, `"1"`, `1`} {
		cmd, err := ParseCommand([]byte(`{"mode":` + raw + `}`))
		if err != nil {
			t.Fatalf("ParseCommand(%s): %v", raw, err)
		}
		if cmd.Mode == nil || *cmd.Mode != state.ModeManual {
			t.Fatalf("mode value %s should parse as MANUAL, got %v", raw, cmd.Mode)
		}
	}
}

func TestParseCommandDropsInvalidFieldKeepsRest(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"mode":"sideways","temp_min":19}`))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Mode != nil {
		t.Fatalf("invalid mode value should be dropped, got %v", cmd.Mode)
	}
	if cmd.TempMin == nil || *cmd.TempMin != 19 {
		t.Fatal("valid sibling field should still be applied")
	}
}

func TestParseCommandOverrideOnlyAcceptsZeroOrOne(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"pump":2}`))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Pump != nil {
		t.Fatal("pump value outside {0,1} should be dropped")
	}
}

// TestInvalidConfigRejectedScenario is the literal end-to-end scenario:
// {"temp_min":35,"temp_max":30} must not change any persisted value.
func TestInvalidConfigRejectedScenario(t *testing.T) {
	cur := config.Defaults()
	cmd, err := ParseCommand([]byte(`{"temp_min":35,"temp_max":30}`))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	candidate, changed := cmd.ApplySettings(cur)
	if !changed {
		t.Fatal("expected the candidate to differ so validation gets a chance to run")
	}
	if err := candidate.Validate(); err == nil {
		t.Fatal("temp_min > temp_max must fail validation")
	}
	// The dispatcher must discard candidate on validation failure and
	// keep the original settings.
	if cur != config.Defaults() {
		t.Fatal("original settings must be untouched by a rejected candidate")
	}
}

func TestTelemetryEncodeRoundTrip(t *testing.T) {
	sensors := state.Sensors{TempC: 21.5, HumPct: 60, SoilPct: 45, TankLevelPct: 80}
	actuators := state.Actuators{Pump: true, Mode: state.ModeAuto}
	tel := NewTelemetry("GH-ABCD01234567", "1.0.0", 1700000000, sensors, actuators)

	encoded, err := tel.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(encoded, `"device_id":"GH-ABCD01234567"`) {
		t.Fatalf("encoded telemetry missing device_id: %s", encoded)
	}
	if !strings.Contains(encoded, `"pump":1`) {
		t.Fatalf("encoded telemetry missing pump=1: %s", encoded)
	}
	if !strings.Contains(encoded, `"mode":"AUTO"`) {
		t.Fatalf("encoded telemetry missing mode: %s", encoded)
	}
}

func TestAlertEncode(t *testing.T) {
	a := Alert{Alert: AlertRollbackExecuted, Message: "boot 4 rolled back", Timestamp: 1700000000}
	encoded, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(encoded, AlertRollbackExecuted) {
		t.Fatalf("encoded alert missing kind: %s", encoded)
	}
}
