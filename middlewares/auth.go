package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"booth-pos/utils"
)

const roleContextKey = "role"

var errMissingToken = errors.New("authorization header missing")

// Authenticator accepts either a role's shared password or a JWT it issued.
// Passwords are kept only as bcrypt hashes.
type Authenticator struct {
	secret []byte
	hashes map[utils.Role][]byte
}

// NewAuthenticator hashes each non-empty password with the given bcrypt cost.
// A role without a password can only be reached through a token.
func NewAuthenticator(secret string, passwords map[utils.Role]string, cost int) (*Authenticator, error) {
	a := &Authenticator{secret: []byte(secret), hashes: map[utils.Role][]byte{}}
	for role, pw := range passwords {
		if pw == "" {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
		if err != nil {
			return nil, err
		}
		a.hashes[role] = hash
	}
	return a, nil
}

// CheckPassword reports whether password is the shared password for role.
func (a *Authenticator) CheckPassword(role utils.Role, password string) bool {
	hash, ok := a.hashes[role]
	if !ok || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

func (a *Authenticator) Secret() []byte {
	return a.secret
}

// Resolve maps a bearer credential to a role. Admin is tried first so an
// admin password never resolves to the weaker role.
func (a *Authenticator) Resolve(credential string) (utils.Role, bool) {
	if len(a.secret) > 0 {
		if role, err := utils.ParseToken(a.secret, credential); err == nil {
			return role, true
		}
	}
	for _, role := range []utils.Role{utils.RoleAdmin, utils.RoleStaff} {
		if a.CheckPassword(role, credential) {
			return role, true
		}
	}
	return "", false
}

// RequireRole rejects requests whose credential does not satisfy required.
func RequireRole(auth *Authenticator, required utils.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		role, ok := auth.Resolve(credential)
		if !ok {
			abortAuth(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
			return
		}
		if !role.Satisfies(required) {
			abortAuth(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
			return
		}
		c.Set(roleContextKey, role)
		c.Next()
	}
}

// RoleFrom returns the role RequireRole stored on the context.
func RoleFrom(c *gin.Context) (utils.Role, bool) {
	v, ok := c.Get(roleContextKey)
	if !ok {
		return "", false
	}
	role, ok := v.(utils.Role)
	return role, ok
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}
