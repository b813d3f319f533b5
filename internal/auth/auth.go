package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"keymanager/internal/lib/jwt"
	sl "keymanager/internal/lib/logger"
	"keymanager/internal/models"
	"keymanager/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDeactivated    = errors.New("user is deactivated")
	ErrInvalidToken       = errors.New("invalid token")
)

type UserProvider interface {
	UserByIdentifier(ctx context.Context, identifier string) (models.User, error)
	UserByUsername(ctx context.Context, username string) (models.User, error)
	UpdatePassword(ctx context.Context, id int64, passHash []byte) error
}

type Auth struct {
	log      *slog.Logger
	users    UserProvider
	secret   string
	tokenTTL time.Duration
}

func New(log *slog.Logger, users UserProvider, secret string, tokenTTL time.Duration) *Auth {
	return &Auth{
		log:      log,
		users:    users,
		secret:   secret,
		tokenTTL: tokenTTL,
	}
}

// Login checks the credentials against a user looked up by username or
// email and issues a signed bearer token.
func (a *Auth) Login(ctx context.Context, identifier, password string) (string, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err := a.users.UserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return "", storage.ErrUserNotFound
		}

		log.Error("failed to get user", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		log.Warn("deactivated user attempted login", slog.String("username", user.Username))
		return "", ErrUserDeactivated
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Info("invalid credentials", sl.Err(err))
		return "", ErrInvalidCredentials
	}

	token, err := jwt.NewToken(user.Username, a.secret, a.tokenTTL)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in successfully", slog.Int64("uid", user.ID))

	return token, nil
}

// VerifyToken re-derives identity from the token on every request: the
// signature and expiry must hold and the subject must still map to an
// active user. There is no session store and no revocation list.
func (a *Auth) VerifyToken(ctx context.Context, token string) (models.User, error) {
	const op = "auth.VerifyToken"

	username, err := jwt.ParseToken(token, a.secret)
	if err != nil {
		return models.User{}, ErrInvalidToken
	}

	user, err := a.users.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, ErrInvalidToken
		}

		a.log.Error("failed to load token subject", slog.String("op", op), sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		return models.User{}, ErrUserDeactivated
	}

	return user, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (a *Auth) ChangePassword(ctx context.Context, user models.User, current, newPassword string) error {
	const op = "auth.ChangePassword"

	log := a.log.With(slog.String("op", op), slog.Int64("uid", user.ID))

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(current)); err != nil {
		log.Info("current password mismatch")
		return ErrInvalidCredentials
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.users.UpdatePassword(ctx, user.ID, passHash); err != nil {
		log.Error("failed to store password hash", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed")

	return nil
}
