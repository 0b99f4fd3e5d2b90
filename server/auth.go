package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/teamboard/access"
)

// Claims is the token payload: the subject plus the identity kind.
type Claims struct {
	Kind access.Kind `json:"kind"`
	jwt.RegisteredClaims
}

var errNoToken = errors.New("missing token")

// SignToken issues an HS256 token for id valid for ttl.
func SignToken(secret string, id access.Identity, ttl time.Duration) (string, error) {
	if id.ID == "" {
		return "", errors.New("sign token: empty subject")
	}
	if id.Kind == "" {
		id.Kind = access.KindUser
	}
	now := time.Now()
	claims := Claims{
		Kind: id.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// VerifyToken validates a token and returns the identity it names.
func VerifyToken(secret, token string) (access.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return access.Identity{}, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return access.Identity{}, errors.New("verify token: no subject")
	}
	kind := claims.Kind
	if kind == "" {
		kind = access.KindUser
	}
	return access.Identity{ID: claims.Subject, Kind: kind}, nil
}

// generateSecret creates a random 32-byte secret.
func generateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// jwtSecret returns the configured JWT secret, generating one if empty.
func (s *Server) jwtSecret() string {
	if s.cfg.Auth.JWTSecret != "" {
		return s.cfg.Auth.JWTSecret
	}
	s.secretOnce.Do(func() {
		s.generatedSecret = generateSecret()
		s.logger.Warn("auth.jwt_secret not set; tokens will not survive a restart")
	})
	return s.generatedSecret
}

func (s *Server) tokenTTL() time.Duration {
	if s.cfg.Auth.TokenTTL > 0 {
		return s.cfg.Auth.TokenTTL
	}
	return 24 * time.Hour
}

// IssueToken mints a token for id with the server's secret and ttl.
func (s *Server) IssueToken(id access.Identity) (string, error) {
	return SignToken(s.jwtSecret(), id, s.tokenTTL())
}

// loginRequest is the body accepted by POST /api/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the body returned by a successful login.
type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin checks the admin credentials against the configured bcrypt
// hash and issues a user token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hash := s.cfg.Auth.AdminPass
	if hash == "" || req.Username != s.cfg.Auth.AdminUser ||
		bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.IssueToken(access.Identity{ID: req.Username, Kind: access.KindUser})
	if err != nil {
		s.logger.Error("sign jwt", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// handleMe returns the authenticated identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := access.FromContext(r.Context())
	writeJSON(w, http.StatusOK, id)
}

// tokenFromRequest reads a bearer token from the Authorization header or,
// for websocket clients that cannot set headers, the token query parameter.
func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || token == "" {
			return "", errors.New("malformed Authorization header")
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errNoToken
}

// authenticate resolves the identity behind r.
func (s *Server) authenticate(r *http.Request) (access.Identity, error) {
	token, err := tokenFromRequest(r)
	if err != nil {
		return access.Identity{}, err
	}
	return VerifyToken(s.jwtSecret(), token)
}

// authMiddleware enforces token authentication on wrapped handlers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized: "+err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(access.WithIdentity(r.Context(), id)))
	})
}
