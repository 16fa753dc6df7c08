// Package settings provides the per-tenant key-value configuration store.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"regexp"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Well-known keys with typed validation.
const (
	KeySIEMWebhookToken     = "siem_webhook_token"
	KeyExportAsyncThreshold = "export.async_threshold"
	KeyAllowedIPRanges      = "security.allowed_ip_ranges"
	KeyNotificationEmail    = "notifications.email"
)

// MinWebhookTokenLength is the shortest accepted SIEM webhook token.
const MinWebhookTokenLength = 16

// MaxValueBytes bounds a single setting value.
const MaxValueBytes = 64 * 1024

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.]{0,63}$`)

// validators checks the value of well-known keys. Other keys accept any JSON.
var validators = map[string]func(json.RawMessage) error{
	KeySIEMWebhookToken:     validateWebhookToken,
	KeyExportAsyncThreshold: validateAsyncThreshold,
	KeyAllowedIPRanges:      validateIPRanges,
	KeyNotificationEmail:    validateEmail,
}

// Store is the persistence the settings service needs.
type Store interface {
	GetTenantSetting(ctx context.Context, tenantID uuid.UUID, key string) (*models.TenantSetting, error)
	ListTenantSettings(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantSetting, error)
	UpsertTenantSetting(ctx context.Context, s *models.TenantSetting) error
	DeleteTenantSetting(ctx context.Context, tenantID uuid.UUID, key string) error
}

// Service reads and writes tenant settings.
type Service struct {
	store  Store
	logger zerolog.Logger
}

// NewService creates a Service.
func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// ValidateKey checks key against the allowed key grammar.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return apperr.BadRequest("invalid setting key %q", key)
	}
	return nil
}

// ValidateValue checks that value is JSON and, for well-known keys, well typed.
func ValidateValue(key string, value json.RawMessage) error {
	if len(bytes.TrimSpace(value)) == 0 {
		return apperr.BadRequest("setting value is required")
	}
	if len(value) > MaxValueBytes {
		return apperr.BadRequest("setting value exceeds %d bytes", MaxValueBytes)
	}
	if !json.Valid(value) {
		return apperr.BadRequest("setting value must be valid JSON")
	}
	if v, ok := validators[key]; ok {
		if err := v(value); err != nil {
			return apperr.BadRequest("invalid %s: %v", key, err)
		}
	}
	return nil
}

// Get returns one setting. Secret values are masked.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID, key string) (*models.TenantSetting, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	st, err := s.store.GetTenantSetting(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	mask(st)
	return st, nil
}

// List returns all of a tenant's settings. Secret values are masked.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantSetting, error) {
	list, err := s.store.ListTenantSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, st := range list {
		mask(st)
	}
	return list, nil
}

func mask(st *models.TenantSetting) {
	if st.Key == KeySIEMWebhookToken {
		st.Value = json.RawMessage(`"********"`)
	}
}

// Set validates and upserts a setting.
func (s *Service) Set(ctx context.Context, tenantID uuid.UUID, key string, value json.RawMessage, updatedBy *uuid.UUID) (*models.TenantSetting, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ValidateValue(key, value); err != nil {
		return nil, err
	}

	setting := &models.TenantSetting{
		TenantID:  tenantID,
		Key:       key,
		Value:     value,
		UpdatedBy: updatedBy,
		UpdatedAt: time.Now(),
	}
	if err := s.store.UpsertTenantSetting(ctx, setting); err != nil {
		return nil, fmt.Errorf("upsert setting: %w", err)
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("key", key).
		Msg("tenant setting updated")
	return setting, nil
}

// Delete removes a setting.
func (s *Service) Delete(ctx context.Context, tenantID uuid.UUID, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.store.DeleteTenantSetting(ctx, tenantID, key)
}

// Int64 returns a numeric setting, or def when it is unset or not a number.
func (s *Service) Int64(ctx context.Context, tenantID uuid.UUID, key string, def int64) int64 {
	st, err := s.store.GetTenantSetting(ctx, tenantID, key)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to read setting, using default")
		}
		return def
	}
	var n int64
	if err := json.Unmarshal(st.Value, &n); err != nil {
		return def
	}
	return n
}

func validateWebhookToken(v json.RawMessage) error {
	var token string
	if err := json.Unmarshal(v, &token); err != nil {
		return errors.New("must be a string")
	}
	if len(token) < MinWebhookTokenLength {
		return fmt.Errorf("must be at least %d characters", MinWebhookTokenLength)
	}
	return nil
}

func validateAsyncThreshold(v json.RawMessage) error {
	var n int64
	if err := json.Unmarshal(v, &n); err != nil {
		return errors.New("must be an integer")
	}
	if n <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func validateIPRanges(v json.RawMessage) error {
	var ranges []string
	if err := json.Unmarshal(v, &ranges); err != nil {
		return errors.New("must be an array of CIDR strings")
	}
	for _, cidr := range ranges {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid IP range '%s'", cidr)
		}
	}
	return nil
}

func validateEmail(v json.RawMessage) error {
	var addr string
	if err := json.Unmarshal(v, &addr); err != nil {
		return errors.New("must be a string")
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("invalid email address '%s'", addr)
	}
	return nil
}
