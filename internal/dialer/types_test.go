package dialer

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want FlexString
	}{
		{`"abc"`, "abc"},
		{`12`, "12"},
		{`null`, ""},
		{`12345678901234`, "12345678901234"},
	}
	for _, tt := range tests {
		var f FlexString
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.in, err)
		}
		if f != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, f, tt.want)
		}
	}
}

func TestFlexIntAndBool(t *testing.T) {
	var raw RawCampaign
	body := `{"id":3,"activo":1,"pausado":"false","total_contactos":"250","llamadas_simultaneas":10}`
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw.Activo == nil || !bool(*raw.Activo) {
		t.Error("activo should decode to true")
	}
	if raw.Pausado == nil || bool(*raw.Pausado) {
		t.Error("pausado should decode to false")
	}
	if raw.TotalContactos == nil || *raw.TotalContactos != 250 {
		t.Errorf("total_contactos = %v", raw.TotalContactos)
	}
	if raw.Active != nil {
		t.Error("absent field should stay nil")
	}
}

func TestFlexBoolRejectsGarbage(t *testing.T) {
	var b FlexBool
	if err := json.Unmarshal([]byte(`"maybe"`), &b); err == nil {
		t.Error("expected error for unknown bool literal")
	}
}

func TestFlexTimeLayouts(t *testing.T) {
	want := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	for _, in := range []string{`"2024-03-05T10:30:00Z"`, `"2024-03-05T10:30:00"`, `"2024-03-05 10:30:00"`} {
		var ft FlexTime
		if err := json.Unmarshal([]byte(in), &ft); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", in, err)
		}
		if !ft.Equal(want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", in, ft.Time, want)
		}
	}

	var empty FlexTime
	if err := json.Unmarshal([]byte(`null`), &empty); err != nil || !empty.IsZero() {
		t.Errorf("null should decode to zero time, got %v %v", empty.Time, err)
	}
	out, _ := json.Marshal(empty)
	if string(out) != "null" {
		t.Errorf("Marshal(zero) = %s, want null", out)
	}
}
