package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/markme/internal/auth"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	defaultProvider      = "markme"
	maxProfileFieldRunes = 320
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUnknownOwner indicates no identity maps to the requested owner id.
	ErrUnknownOwner = errors.New("users: unknown owner")
	// ErrInvalidProfile indicates a profile update failed validation.
	ErrInvalidProfile = errors.New("users: invalid profile")
)

// ValidationError names the profile field that failed validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("users: invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ProfileUpdate carries the profile fields to change. Nil fields are left untouched and
// an empty string clears the field.
type ProfileUpdate struct {
	DisplayName *string
	Email       *string
}

// ServiceConfig describes the dependencies required for owner resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves session claims to stable owner ids.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	validate *validator.Validate
	cache    sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock, validate: validator.New()}, nil
}

// ResolveOwnerID returns the owner id for the session claims, recording the identity the
// first time the provider and subject pair is seen.
func (s *Service) ResolveOwnerID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if ownerID, ok := cached.(string); ok {
			return ownerID, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			OwnerID:     subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if identity.ProfileEditedAt == nil {
			if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
				updates["user_email"] = email
			}
			if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
				updates["user_display_name"] = display
			}
		}
		if err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			return "", err
		}
	}

	s.cache.Store(cacheKey, identity.OwnerID)
	return identity.OwnerID, nil
}

// Profile returns the most recently seen identity of ownerID.
func (s *Service) Profile(ctx context.Context, ownerID string) (Identity, error) {
	ownerID = normalize(ownerID)
	if ownerID == "" {
		return Identity{}, ErrUnknownOwner
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_seen_at DESC").
		Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUnknownOwner
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// UpdateProfile applies update to every identity of ownerID and returns the refreshed
// profile.
func (s *Service) UpdateProfile(ctx context.Context, ownerID string, update ProfileUpdate) (Identity, error) {
	ownerID = normalize(ownerID)
	if ownerID == "" {
		return Identity{}, ErrUnknownOwner
	}
	updates := map[string]interface{}{"profile_edited_at": s.now().UTC()}
	if update.DisplayName != nil {
		displayName := normalize(*update.DisplayName)
		if utf8.RuneCountInString(displayName) > maxProfileFieldRunes {
			return Identity{}, &ValidationError{Field: "displayName", Err: fmt.Errorf("%w: longer than %d characters", ErrInvalidProfile, maxProfileFieldRunes)}
		}
		updates["user_display_name"] = displayName
	}
	if update.Email != nil {
		email := normalize(*update.Email)
		if email != "" {
			if utf8.RuneCountInString(email) > maxProfileFieldRunes || s.validate.Var(email, "email") != nil {
				return Identity{}, &ValidationError{Field: "email", Err: fmt.Errorf("%w: malformed email address", ErrInvalidProfile)}
			}
		}
		updates["user_email"] = email
	}

	result := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("owner_id = ?", ownerID).
		Updates(updates)
	if result.Error != nil {
		return Identity{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Identity{}, ErrUnknownOwner
	}
	return s.Profile(ctx, ownerID)
}

// deriveProviderSubject accepts "provider:subject" user ids as issued by external login
// services and falls back to the JWT subject or email.
func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
