// AngelaMos | 2026
// entity.go

package credential

import (
	"time"
	"unicode/utf8"
)

type Purpose string

const (
	PurposeAny           Purpose = ""
	PurposeEmailVerify   Purpose = "EMAIL_VERIFY"
	PurposeRefresh       Purpose = "REFRESH"
	PurposeResetPassword Purpose = "RESET_PASSWORD"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeEmailVerify, PurposeRefresh, PurposeResetPassword:
		return true
	}
	return false
}

const (
	ReasonRotated       = "rotated"
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonReuseDetected = "reuse_detected"
	ReasonOperator      = "operator"
	ReasonSessionRevoke = "session_revoked"
	ReasonPasswordReset = "password_reset"
)

const (
	maxLabelRunes  = 120
	unknownDevice  = "Unknown device"
	maxFieldLength = 512
)

// DeviceInfo is advisory metadata captured from the transport. Nothing in the
// engine makes a decision based on it.
type DeviceInfo struct {
	UserAgent *string
	IP        *string
	Label     string
}

func NewDeviceInfo(userAgent, ip string) DeviceInfo {
	d := DeviceInfo{Label: unknownDevice}

	if userAgent != "" {
		ua := truncateRunes(userAgent, maxFieldLength)
		d.UserAgent = &ua
		d.Label = truncateRunes(userAgent, maxLabelRunes)
	}
	if ip != "" {
		addr := truncateRunes(ip, maxFieldLength)
		d.IP = &addr
	}

	return d
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type Credential struct {
	ID           string
	PrincipalID  string
	Purpose      Purpose
	SecretDigest string
	Device       DeviceInfo
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
	RevokeReason *string
	FamilyID     *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Credential) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *Credential) IsLiveAt(now time.Time) bool {
	return !c.Revoked && !c.IsExpiredAt(now)
}

func (c *Credential) Family() string {
	if c.FamilyID == nil {
		return ""
	}
	return *c.FamilyID
}

// SessionView is the operator-safe projection of a refresh credential. It
// never carries the digest.
type SessionView struct {
	ID          string    `json:"id"`
	FamilyID    string    `json:"family_id"`
	DeviceLabel string    `json:"device_label"`
	UserAgent   *string   `json:"user_agent,omitempty"`
	IPAddress   *string   `json:"ip_address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func ToSessionView(c *Credential) SessionView {
	return SessionView{
		ID:          c.ID,
		FamilyID:    c.Family(),
		DeviceLabel: c.Device.Label,
		UserAgent:   c.Device.UserAgent,
		IPAddress:   c.Device.IP,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
	}
}
