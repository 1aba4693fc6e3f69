// AngelaMos | 2026
// dto.go

package session

import (
	"time"

	"github.com/carterperez-dev/templates/credential-engine/internal/credential"
)

type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// TokenResponse deliberately omits the refresh secret; it travels in the
// cookie only.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	SessionID        string    `json:"session_id"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type SessionsResponse struct {
	Sessions []credential.SessionView `json:"sessions"`
}

type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

func toTokenResponse(issued *Issued, now time.Time) TokenResponse {
	expiresIn := int(issued.AccessExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	return TokenResponse{
		AccessToken:      issued.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        expiresIn,
		ExpiresAt:        issued.AccessExpiresAt,
		SessionID:        issued.SessionID,
		RefreshExpiresAt: issued.RefreshExpiresAt,
	}
}
