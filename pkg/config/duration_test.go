package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDurationUnmarshalsBareSeconds(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`90`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Fatalf("expected 90s, got %v", d.Std())
	}
}

func TestDurationUnmarshalsHHMMSS(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"01:02:03"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := time.Hour + 2*time.Minute + 3*time.Second
	if d.Std() != want {
		t.Fatalf("expected %v, got %v", want, d.Std())
	}
}

func TestDurationUnmarshalsInvalidStringFails(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatal("expected error for malformed duration string")
	}
}

func TestDurationRoundTripsThroughJSON(t *testing.T) {
	d := Duration(90 * time.Minute)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Duration
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Std() != d.Std() {
		t.Fatalf("round trip mismatch: got %v, want %v", back.Std(), d.Std())
	}
}
