// Package campaigns holds the canonical campaign model and its local
// state transforms.
package campaigns

import (
	"strings"
	"time"

	"github.com/foxzi/discador/internal/dialer"
)

// Status is the derived campaign state
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusDraft  Status = "draft"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusDraft:
		return true
	}
	return false
}

// ParseStatus parses a status name, case-insensitively
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// DeriveStatus combines the backend flags. Paused wins over active.
func DeriveStatus(active, paused bool) Status {
	switch {
	case active && !paused:
		return StatusActive
	case paused:
		return StatusPaused
	default:
		return StatusDraft
	}
}

// Campaign is the canonical campaign shape served to the console
type Campaign struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	Status               Status    `json:"status"`
	Active               bool      `json:"is_active"`
	Paused               bool      `json:"is_paused"`
	CLINumber            string    `json:"cli_number,omitempty"`
	ContactsTotal        int       `json:"contacts_total"`
	MaxConcurrentCalls   int       `json:"max_concurrent_calls"`
	MaxAttempts          int       `json:"max_attempts"`
	RetryIntervalSeconds int       `json:"retry_interval_seconds"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// IsActive reports whether the campaign is dialing
func (c Campaign) IsActive() bool { return c.Status == StatusActive }

// IsPaused reports whether the campaign is paused
func (c Campaign) IsPaused() bool { return c.Status == StatusPaused }

// Normalize maps the backend's mixed localized shape onto Campaign.
// Localized fields are used only when the canonical one is absent.
func Normalize(raw dialer.RawCampaign) Campaign {
	c := Campaign{
		ID:          string(raw.ID),
		Name:        firstString(raw.Name, raw.Nombre),
		Description: firstString(raw.Description, raw.Descripcion),
		CLINumber:   firstString(raw.CLINumber, raw.CLI),

		ContactsTotal:        firstInt(raw.ContactsTotal, raw.TotalContactos),
		MaxConcurrentCalls:   firstInt(raw.MaxConcurrentCalls, raw.LlamadasSimultaneas),
		MaxAttempts:          firstInt(raw.MaxAttempts, raw.IntentosMaximos),
		RetryIntervalSeconds: firstInt(raw.RetryIntervalSeconds, raw.IntervaloReintento),

		CreatedAt: firstTime(raw.CreatedAt, raw.FechaCreacion),
		UpdatedAt: firstTime(raw.UpdatedAt, raw.FechaActualizacion),
	}

	active, haveActive := firstBool(raw.Active, raw.Activo)
	paused, havePaused := firstBool(raw.Paused, raw.Pausado)

	// Older endpoints only send a status string.
	if !haveActive && !havePaused {
		if st, ok := ParseStatus(raw.Status); ok {
			return ApplyStatus(c, st)
		}
	}

	c.Active = active
	c.Paused = paused
	c.Status = DeriveStatus(active, paused)
	return c
}

// NormalizeList normalizes every raw campaign
func NormalizeList(raw []dialer.RawCampaign) []Campaign {
	out := make([]Campaign, 0, len(raw))
	for _, r := range raw {
		out = append(out, Normalize(r))
	}
	return out
}

// ApplyStatus sets the flags so that DeriveStatus yields status
func ApplyStatus(c Campaign, status Status) Campaign {
	switch status {
	case StatusActive:
		c.Active, c.Paused = true, false
	case StatusPaused:
		c.Active, c.Paused = true, true
	default:
		c.Active, c.Paused = false, false
	}
	c.Status = DeriveStatus(c.Active, c.Paused)
	return c
}

// FilterByStatus returns the campaigns with the given status, in order
func FilterByStatus(list []Campaign, status Status) []Campaign {
	out := make([]Campaign, 0, len(list))
	for _, c := range list {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the campaign with id
func Find(list []Campaign, id string) (Campaign, bool) {
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return Campaign{}, false
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(values ...*dialer.FlexInt) int {
	for _, v := range values {
		if v != nil {
			return int(*v)
		}
	}
	return 0
}

func firstBool(values ...*dialer.FlexBool) (bool, bool) {
	for _, v := range values {
		if v != nil {
			return bool(*v), true
		}
	}
	return false, false
}

func firstTime(values ...dialer.FlexTime) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v.Time
		}
	}
	return time.Time{}
}
