package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/assessment-api/internal/utils"
)

const recruiterLocal = "recruiter"

// RecruiterClaims is the token shape issued by the external identity service. Older
// tokens carry a roles list instead of a single role.
type RecruiterClaims struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Recruiter is the authenticated caller on the recruiter API.
type Recruiter struct {
	Subject string
	Role    string
}

func (c RecruiterClaims) primaryRole() string {
	if role := strings.ToLower(strings.TrimSpace(c.Role)); role != "" {
		return role
	}
	for _, candidate := range c.Roles {
		if role := strings.ToLower(strings.TrimSpace(candidate)); role != "" {
			return role
		}
	}
	return ""
}

// JWTProtected validates HMAC-signed bearer tokens and stores the caller for later
// middleware and handlers.
func JWTProtected(secret string) fiber.Handler {
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	return func(c *fiber.Ctx) error {
		authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		scheme, tokenString, found := strings.Cut(authorization, " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}
		tokenString = strings.TrimSpace(tokenString)
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		var claims RecruiterClaims
		token, err := parser.ParseWithClaims(tokenString, &claims, keyFunc)
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(recruiterLocal, Recruiter{
			Subject: strings.TrimSpace(claims.Subject),
			Role:    claims.primaryRole(),
		})
		return c.Next()
	}
}

// CurrentRecruiter returns the caller stored by JWTProtected.
func CurrentRecruiter(c *fiber.Ctx) (Recruiter, bool) {
	recruiter, ok := c.Locals(recruiterLocal).(Recruiter)
	return recruiter, ok
}
