package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"weaveledger/backend/internal/domain"
	"weaveledger/backend/internal/store"
)

const tokenIssuer = "weaveledger"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errUserExists         = errors.New("user already exists")
	errInvalidToken       = errors.New("invalid or expired token")
	errUnknownUser        = errors.New("user no longer exists")
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	now       func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
}

type accessClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// NewAuthManager does not substitute a default for an empty secret; startup
// validation rejects short secrets before this is called.
func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Signup(ctx context.Context, req domain.SignupRequest) (domain.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleAdmin && role != domain.RoleUser {
		return domain.AuthResponse{}, fmt.Errorf("role must be admin or user: %w", store.ErrInvalidInput)
	}
	if len(req.Password) < 6 {
		return domain.AuthResponse{}, fmt.Errorf("password must be at least 6 characters: %w", store.ErrInvalidInput)
	}

	if _, err := a.userStore.GetUserByEmail(ctx, email); err == nil {
		return domain.AuthResponse{}, errUserExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.AuthResponse{}, fmt.Errorf("lookup user: %w", err)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := a.userStore.CreateUser(ctx, domain.UserAccount{
		Email:     email,
		Password:  passwordHash,
		Role:      role,
		CreatedAt: a.now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return domain.AuthResponse{}, errUserExists
	}
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("create user: %w", err)
	}

	return a.issue(*user, "user created successfully")
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	user, err := a.userStore.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, store.ErrNotFound) {
		return domain.AuthResponse{}, errInvalidCredentials
	}
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("lookup user: %w", err)
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.AuthResponse{}, errInvalidCredentials
	}
	return a.issue(*user, "login successful")
}

func (a *AuthManager) issue(user domain.UserAccount, message string) (domain.AuthResponse, error) {
	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return domain.AuthResponse{
		Message:   message,
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      domain.PublicUser{ID: user.ID, Email: user.Email, Role: user.Role},
	}, nil
}

// ParseToken verifies signature, expiry and issuer, then returns the actor
// named by the claims.
func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &accessClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{ID: sub, Email: claims.Email, Role: claims.Role}, nil
}

// Resolve parses the token and reloads the user so a deleted account or a
// changed role takes effect before the token expires.
func (a *AuthManager) Resolve(ctx context.Context, tokenStr string) (domain.Actor, error) {
	claimed, err := a.ParseToken(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}
	user, err := a.userStore.GetUserByID(ctx, claimed.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Actor{}, errUnknownUser
	}
	if err != nil {
		return domain.Actor{}, fmt.Errorf("lookup user: %w", err)
	}
	return domain.Actor{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Email: user.Email,
		Role:  user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
