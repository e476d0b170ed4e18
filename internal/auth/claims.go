package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims are the only supported JWT claims shape for this service.
// WorkspaceID must be present for all activity; every signed-in identity is
// an agent, supervisor, or admin within exactly one workspace.
type Claims struct {
	jwt.RegisteredClaims

	AgentID     string    `json:"agent_id"`
	WorkspaceID string    `json:"workspace_id"`
	Role        string    `json:"role"`
	TokenType   TokenType `json:"token_type"`
}
