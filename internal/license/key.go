package license

import (
	"encoding/hex"
	"regexp"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"

	apierrors "sessiongate/internal/errors"
)

// KeyTag is the validator tag accepted on license key fields
const KeyTag = "licensekey"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

var keyValidator = NewValidator()

// NewValidator returns a validator with the licensekey tag registered
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation(KeyTag, isLicenseKey)
	return v
}

func isLicenseKey(fl validator.FieldLevel) bool {
	return keyPattern.MatchString(fl.Field().String())
}

// ValidateKey performs the local format check on a license key.
// It never consults a backend.
func ValidateKey(key string) error {
	if key == "" {
		return apierrors.ErrLicenseKeyEmpty
	}
	if err := keyValidator.Var(key, KeyTag); err != nil {
		return apierrors.ErrLicenseKeyMalformed
	}
	return nil
}

// Fingerprint returns a short stable digest of a license key for logs and
// span attributes, so raw keys never leave the process.
func Fingerprint(key string) string {
	if key == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
