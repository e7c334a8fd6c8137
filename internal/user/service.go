package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"travel-chat/internal/chat"
)

const (
	tokenIssuer       = "travel-chat"
	minPasswordLength = 8
	maxNameLength     = 100
)

// UserRepository is what the Service needs from storage.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]User, error)
	SearchUsers(ctx context.Context, term, excludeID string) ([]User, error)
}

type Service struct {
	repo       UserRepository
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
	now        func() time.Time
}

type MyJWTClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

func NewService(repo UserRepository, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		jwtSecret:  []byte(secret),
		tokenTTL:   tokenTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	email, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name must be between 1 and %d characters", ErrInvalidInput, maxNameLength)
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	return s.repo.CreateUser(ctx, &User{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(email.Address),
		Name:      name,
		AvatarURL: strings.TrimSpace(req.AvatarURL),
		Password:  string(hashedPwd),
	})
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		Name: u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	ss, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ExpiresAt:   expiresAt,
		User:        u,
	}, nil
}

// ValidateToken returns the user id carried by a token issued by Login.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Profiles implements chat.UserDirectory. Ids that are not user ids are
// left out of the result.
func (s *Service) Profiles(ctx context.Context, ids []string) (map[string]chat.Profile, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}

	users, err := s.repo.GetUsersByIDs(ctx, valid)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]chat.Profile, len(users))
	for _, u := range users {
		profiles[u.ID] = chat.Profile{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
	}
	return profiles, nil
}

func (s *Service) SearchUsers(ctx context.Context, term, requesterID string) ([]User, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []User{}, nil
	}
	return s.repo.SearchUsers(ctx, term, requesterID)
}
