package dialer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrorResponse represents a backend error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// Text returns the first non-empty message field
func (e ErrorResponse) Text() string {
	for _, s := range []string{e.Error, e.Detail, e.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

// HealthResponse represents backend health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// FlexString accepts a JSON string or number. null decodes to "".
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// FlexInt accepts a JSON number or numeric string
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flex int %q: %w", s, err)
	}
	*f = FlexInt(int(n))
	return nil
}

// FlexBool accepts true/false, 0/1 and "true"/"false"/"1"/"0"
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	switch s {
	case "true", "1", "si", "sí", "yes":
		*f = true
	case "false", "0", "no", "null", "":
		*f = false
	default:
		return fmt.Errorf("flex bool: unexpected %q", s)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FlexTime accepts RFC3339 and the common SQL timestamp layouts
type FlexTime struct {
	time.Time
}

func (f *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		f.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("flex time: %w", err)
	}
	if s == "" {
		f.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = t
			return nil
		}
	}
	return fmt.Errorf("flex time: unsupported format %q", s)
}

func (f FlexTime) MarshalJSON() ([]byte, error) {
	if f.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(f.Time)
}

// RawCampaign is a campaign as the backend returns it. The backend mixes
// localized and English field names depending on the endpoint version.
type RawCampaign struct {
	ID FlexString `json:"id"`

	Name        string `json:"name"`
	Nombre      string `json:"nombre"`
	Description string `json:"description"`
	Descripcion string `json:"descripcion"`

	Status  string    `json:"status"`
	Active  *FlexBool `json:"active"`
	Activo  *FlexBool `json:"activo"`
	Paused  *FlexBool `json:"paused"`
	Pausado *FlexBool `json:"pausado"`

	CLINumber string `json:"cli_number"`
	CLI       string `json:"cli"`

	ContactsTotal        *FlexInt `json:"contacts_total"`
	TotalContactos       *FlexInt `json:"total_contactos"`
	MaxConcurrentCalls   *FlexInt `json:"max_concurrent_calls"`
	LlamadasSimultaneas  *FlexInt `json:"llamadas_simultaneas"`
	MaxAttempts          *FlexInt `json:"max_attempts"`
	IntentosMaximos      *FlexInt `json:"intentos_maximos"`
	RetryIntervalSeconds *FlexInt `json:"retry_interval_seconds"`
	IntervaloReintento   *FlexInt `json:"intervalo_reintento"`

	CreatedAt          FlexTime `json:"created_at"`
	FechaCreacion      FlexTime `json:"fecha_creacion"`
	UpdatedAt          FlexTime `json:"updated_at"`
	FechaActualizacion FlexTime `json:"fecha_actualizacion"`
}

// CampaignRequest is the create/update body, in the backend's native names
type CampaignRequest struct {
	Nombre              string `json:"nombre"`
	Descripcion         string `json:"descripcion,omitempty"`
	CLI                 string `json:"cli,omitempty"`
	LlamadasSimultaneas int    `json:"llamadas_simultaneas,omitempty"`
	IntentosMaximos     int    `json:"intentos_maximos,omitempty"`
	IntervaloReintento  int    `json:"intervalo_reintento,omitempty"`
}

// CampaignStats are live counters for a campaign
type CampaignStats struct {
	CampaignID         FlexString `json:"campaign_id"`
	CallsTotal         FlexInt    `json:"calls_total"`
	CallsAnswered      FlexInt    `json:"calls_answered"`
	CallsFailed        FlexInt    `json:"calls_failed"`
	CallsInProgress    FlexInt    `json:"calls_in_progress"`
	ContactsPending    FlexInt    `json:"contacts_pending"`
	ContactsCompleted  FlexInt    `json:"contacts_completed"`
	AnswerRate         float64    `json:"answer_rate"`
	AvgDurationSeconds float64    `json:"avg_duration_seconds"`
	UpdatedAt          FlexTime   `json:"updated_at"`
}

// ControlResponse is returned by the campaign action endpoints
type ControlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// AudioAsset represents an uploaded audio file
type AudioAsset struct {
	ID              FlexString `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	AudioType       string     `json:"audio_type"`
	SizeBytes       int64      `json:"size_bytes"`
	DurationSeconds float64    `json:"duration_seconds"`
	CampaignID      FlexString `json:"campaign_id,omitempty"`
	CreatedAt       FlexTime   `json:"created_at"`
}

// AudioUpload holds the form fields of an audio upload
type AudioUpload struct {
	Name        string
	Description string
	AudioType   string
	CampaignID  string
	FileName    string
}

// Trunk represents a SIP trunk
type Trunk struct {
	ID          FlexString        `json:"id,omitempty"`
	Name        string            `json:"name"`
	Host        string            `json:"host"`
	CountryCode string            `json:"country_code"`
	DVCodes     []string          `json:"dv_codes"`
	MaxChannels int               `json:"max_channels"`
	TrunkType   string            `json:"trunk_type"`
	SIPConfig   map[string]string `json:"sip_config,omitempty"`
}

// BlacklistEntry is a number excluded from dialing
type BlacklistEntry struct {
	Number    string   `json:"number"`
	Reason    string   `json:"reason,omitempty"`
	CreatedAt FlexTime `json:"created_at"`
}

// ActiveCall is a call currently handled by the dialer
type ActiveCall struct {
	ID              FlexString `json:"id"`
	CampaignID      FlexString `json:"campaign_id"`
	Number          string     `json:"number"`
	State           string     `json:"state"`
	Trunk           string     `json:"trunk,omitempty"`
	StartedAt       FlexTime   `json:"started_at"`
	DurationSeconds FlexInt    `json:"duration_seconds"`
}

// CallsResponse lists active calls
type CallsResponse struct {
	Calls []ActiveCall `json:"calls"`
	Total int          `json:"total"`
}
