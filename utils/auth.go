package utils

import (
	"github.com/dgrijalva/jwt-go"
)

// JWT secret key, loaded from the environment at startup.
var JwtKey []byte

// Claims represents the JWT claims. Tokens are issued by the registration
// service; this service only validates them.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.StandardClaims
}
