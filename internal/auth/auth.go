package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/concertify/concertify/internal/apperr"
	"github.com/concertify/concertify/internal/models"
)

// Sign-up and sign-in failures carry their own category so the client can
// show the right message on the right field.
var (
	ErrUsernameTaken  = fmt.Errorf("username taken: %w", apperr.ErrValidation)
	ErrWeakPassword   = fmt.Errorf("weak password: %w", apperr.ErrValidation)
	ErrBadUsername    = fmt.Errorf("bad username: %w", apperr.ErrValidation)
	ErrBadCredentials = fmt.Errorf("invalid credential: %w", apperr.ErrPermission)
)

// Category names the auth failure for the user-message catalog.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrUsernameTaken):
		return "username taken"
	case errors.Is(err, ErrWeakPassword):
		return "weak password"
	case errors.Is(err, ErrBadCredentials):
		return "invalid credential"
	}
	return ""
}

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func New(db *sql.DB, jwtSecret string) *Service {
	return NewWithTokenTTL(db, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(username, password string) (models.User, error) {
	// Validate inputs
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return models.User{}, ErrBadUsername
	}

	// Username can only contain alphanumeric and underscore
	if !usernamePattern.MatchString(username) {
		return models.User{}, ErrBadUsername
	}

	if len(password) < 6 {
		return models.User{}, ErrWeakPassword
	}

	// Hash password
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.Exec(
		"INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID,
		user.Username,
		string(hash),
		user.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, fmt.Errorf("failed to register user: %w", err)
	}

	return user, nil
}

func (s *Service) Login(username, password string) (string, models.User, error) {
	username = strings.TrimSpace(username)

	var user models.User
	var passwordHash string

	err := s.db.QueryRow(
		"SELECT id, username, display_name, profile_image_url, created_at, password_hash FROM users WHERE username = ?",
		username,
	).Scan(&user.ID, &user.Username, &user.DisplayName, &user.ProfileImageURL, &user.CreatedAt, &passwordHash)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.User{}, ErrBadCredentials
		}
		return "", models.User{}, fmt.Errorf("failed to query user: %w", err)
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", models.User{}, ErrBadCredentials
	}

	token, err := s.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", models.User{}, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, user, nil
}

func (s *Service) GenerateToken(userID, username string) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

func (s *Service) GetUserByUsername(username string) (models.User, error) {
	var user models.User
	err := s.db.QueryRow(
		"SELECT id, username, display_name, profile_image_url, created_at FROM users WHERE username = ?",
		username,
	).Scan(&user.ID, &user.Username, &user.DisplayName, &user.ProfileImageURL, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, apperr.NotFound("user " + username)
		}
		return models.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (s *Service) GetUserByID(id string) (models.User, error) {
	var user models.User
	err := s.db.QueryRow(
		"SELECT id, username, display_name, profile_image_url, created_at FROM users WHERE id = ?",
		id,
	).Scan(&user.ID, &user.Username, &user.DisplayName, &user.ProfileImageURL, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, apperr.NotFound("user " + id)
		}
		return models.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// UserExists checks if a user with the given ID exists
func (s *Service) UserExists(userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// UpdateProfile sets the display name and/or profile image. Nil fields are
// left untouched.
func (s *Service) UpdateProfile(userID string, displayName, profileImageURL *string) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}
	if displayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *displayName)
	}
	if profileImageURL != nil {
		sets = append(sets, "profile_image_url = ?")
		args = append(args, *profileImageURL)
	}
	args = append(args, userID)

	res, err := s.db.Exec(
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user " + userID)
	}
	return nil
}
