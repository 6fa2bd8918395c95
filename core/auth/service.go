package auth

import (
	"context"
	"errors"
	"time"

	"VKSaver/cache"
	"VKSaver/logger"
	"VKSaver/model"

	"github.com/google/uuid"
)

var (
	ErrInvalidVKToken  = errors.New("invalid or expired VK token")
	ErrSessionNotFound = errors.New("session not found")
)

// ProfileSource validates a VK token against the account API.
type ProfileSource interface {
	GetCurrentUser(ctx context.Context, token string) (*model.VKUser, error)
	CheckProfile(ctx context.Context, token string) error
}

// LoginResult is returned by a successful token login.
type LoginResult struct {
	Token   string
	Session *model.Session
}

// Service manages VK token sessions.
type Service struct {
	profiles ProfileSource
	sessions cache.SessionStore
	tokens   *TokenIssuer
}

// NewService creates the session service.
func NewService(profiles ProfileSource, sessions cache.SessionStore, tokens *TokenIssuer) *Service {
	return &Service{profiles: profiles, sessions: sessions, tokens: tokens}
}

// Login validates vkToken, stores a new session and returns a bearer token for it.
func (s *Service) Login(ctx context.Context, vkToken string) (*LoginResult, error) {
	if vkToken == "" {
		return nil, ErrInvalidVKToken
	}

	user, err := s.profiles.GetCurrentUser(ctx, vkToken)
	if err != nil || user == nil {
		logger.Warn("[Auth.Login] users.get gave no profile, checking account", logger.ErrorField(err))
		if cerr := s.profiles.CheckProfile(ctx, vkToken); cerr != nil {
			return nil, ErrInvalidVKToken
		}
		user = &model.VKUser{FirstName: "VK", LastName: "User"}
	}

	sess := &model.Session{
		ID:        uuid.NewString(),
		Token:     vkToken,
		User:      *user,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	bearer, err := s.tokens.GenerateToken(sess.ID)
	if err != nil {
		return nil, err
	}

	logger.Info("[Auth.Login] session created", logger.String("session_id", sess.ID), logger.Int64("vk_user", user.ID))
	return &LoginResult{Token: bearer, Session: sess}, nil
}

// Logout removes the session. Unknown sessions are ignored.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// Authenticate resolves a bearer token to its live session.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*model.Session, error) {
	claims, err := s.tokens.ParseToken(bearer)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}
