// Package identity converts between internal user identifiers and the
// external messaging provider's user-id strings. Two generations of the
// encoding coexist: the legacy form derived from an external-auth subject and
// the tenant-qualified form derived from internal ids. Both are recognized on
// read; only the tenant-qualified form is produced on write.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Format enumerates the recognized generations of external user identifiers.
type Format string

const (
	// FormatTenantQualified encodes both the owning tenant id and the internal user id.
	FormatTenantQualified Format = "tenant_qualified"
	// FormatLegacy carries a sanitized external-auth subject. Resolving it to
	// an internal user requires the users table; the codec only classifies.
	FormatLegacy Format = "legacy"
	// FormatUnrecognized marks strings matching neither generation.
	FormatUnrecognized Format = "unrecognized"
)

// tenantQualifiedPrefix is reserved: strings starting with it that do not
// parse as tenant-qualified are malformed, never legacy.
const tenantQualifiedPrefix = "user_"

// maxExternalIDLength is the provider's bound on user identifiers.
const maxExternalIDLength = 64

// ErrMalformedIdentifier indicates an external identifier that matches
// neither recognized format, or a tenant-qualified string whose numeric
// segments fail to parse.
var ErrMalformedIdentifier = errors.New("identity: malformed external identifier")

var (
	tenantQualifiedPattern = regexp.MustCompile(`^user_([0-9]+)_([0-9]+)$`)
	legacyPattern          = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	subjectSanitizer       = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// ParsedID is the tagged result of parsing an external identifier. The
// payload selected by Format is meaningful; the rest is zero.
type ParsedID struct {
	Raw      string
	Format   Format
	TenantID int64  // tenant-qualified only
	UserID   int64  // tenant-qualified only
	Subject  string // legacy only
}

// IsTenantQualified reports whether the identifier is of the current generation.
func (p ParsedID) IsTenantQualified() bool {
	return p.Format == FormatTenantQualified
}

// IsLegacy reports whether the identifier is of the retired generation.
func (p ParsedID) IsLegacy() bool {
	return p.Format == FormatLegacy
}

// External derives the tenant-qualified external identifier for an internal
// user id under a tenant.
func External(userID, tenantID int64) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("%w: non-positive user id %d", ErrMalformedIdentifier, userID)
	}
	if tenantID <= 0 {
		return "", fmt.Errorf("%w: non-positive tenant id %d", ErrMalformedIdentifier, tenantID)
	}
	return fmt.Sprintf("user_%d_%d", tenantID, userID), nil
}

// LegacyExternal sanitizes an external-auth subject into the legacy
// identifier form the first generation of the system produced. Runes outside
// the provider's identifier alphabet collapse to a single underscore.
func LegacyExternal(subject string) (string, error) {
	sanitized := subjectSanitizer.ReplaceAllString(strings.TrimSpace(subject), "_")
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		return "", fmt.Errorf("%w: empty auth subject", ErrMalformedIdentifier)
	}
	if strings.HasPrefix(sanitized, tenantQualifiedPrefix) {
		return "", fmt.Errorf("%w: auth subject %q collides with the tenant-qualified namespace", ErrMalformedIdentifier, subject)
	}
	if len(sanitized) > maxExternalIDLength {
		sanitized = sanitized[:maxExternalIDLength]
	}
	return sanitized, nil
}

// Parse classifies raw into one of the recognized formats and extracts its
// payload. It is pure and performs no I/O.
func Parse(raw string) (ParsedID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedID{}, fmt.Errorf("%w: empty", ErrMalformedIdentifier)
	}
	if len(trimmed) > maxExternalIDLength {
		return ParsedID{}, fmt.Errorf("%w: exceeds %d characters", ErrMalformedIdentifier, maxExternalIDLength)
	}

	if strings.HasPrefix(trimmed, tenantQualifiedPrefix) {
		match := tenantQualifiedPattern.FindStringSubmatch(trimmed)
		if match == nil {
			return ParsedID{}, fmt.Errorf("%w: %q is in the tenant-qualified namespace but does not parse", ErrMalformedIdentifier, trimmed)
		}
		tenantID, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return ParsedID{}, fmt.Errorf("%w: tenant segment of %q: %v", ErrMalformedIdentifier, trimmed, err)
		}
		userID, err := strconv.ParseInt(match[2], 10, 64)
		if err != nil {
			return ParsedID{}, fmt.Errorf("%w: user segment of %q: %v", ErrMalformedIdentifier, trimmed, err)
		}
		if tenantID <= 0 || userID <= 0 {
			return ParsedID{}, fmt.Errorf("%w: non-positive segment in %q", ErrMalformedIdentifier, trimmed)
		}
		return ParsedID{
			Raw:      trimmed,
			Format:   FormatTenantQualified,
			TenantID: tenantID,
			UserID:   userID,
		}, nil
	}

	if !legacyPattern.MatchString(trimmed) {
		return ParsedID{}, fmt.Errorf("%w: %q contains runes outside the identifier alphabet", ErrMalformedIdentifier, trimmed)
	}
	return ParsedID{
		Raw:     trimmed,
		Format:  FormatLegacy,
		Subject: trimmed,
	}, nil
}

// FormatOf reports the format of raw without surfacing parse errors.
func FormatOf(raw string) Format {
	parsed, err := Parse(raw)
	if err != nil {
		return FormatUnrecognized
	}
	return parsed.Format
}
