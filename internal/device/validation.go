package device

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxSlugLength = 50
	maxTags       = 20
	maxTagLength  = 50

	// Z-Wave Classic node IDs run 1-232; Long Range nodes use 256-4000.
	minNodeID          = 1
	maxClassicNodeID   = 232
	minLongRangeNodeID = 256
	maxLongRangeNodeID = 4000

	slugPattern = `^[a-z0-9]+(?:-[a-z0-9]+)*$`
	tagPattern  = `^[a-z0-9_]+$`
)

var (
	slugRegex = regexp.MustCompile(slugPattern)
	tagRegex  = regexp.MustCompile(tagPattern)
)

// ValidateDevice checks a device before it is persisted.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateSlug(d.Slug); err != nil {
		return err
	}
	if err := ValidateNodeID(d.NodeID); err != nil {
		return err
	}
	return ValidateTags(d.Tags)
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSlug checks if a slug format is valid.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug cannot be empty", ErrInvalidSlug)
	}
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: slug must be lowercase alphanumeric with hyphens", ErrInvalidSlug)
	}
	return nil
}

// ValidateNodeID accepts Classic and Long Range node IDs.
func ValidateNodeID(id int) error {
	if (id >= minNodeID && id <= maxClassicNodeID) || (id >= minLongRangeNodeID && id <= maxLongRangeNodeID) {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidNodeID, id)
}

// ValidateTags checks tag count, format and uniqueness.
func ValidateTags(tags []string) error {
	if len(tags) > maxTags {
		return fmt.Errorf("%w: more than %d tags", ErrInvalidTag, maxTags)
	}
	for i, tag := range tags {
		if tag == "" || len(tag) > maxTagLength || !tagRegex.MatchString(tag) {
			return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
		}
		if slices.Contains(tags[:i], tag) {
			return fmt.Errorf("%w: duplicate %q", ErrInvalidTag, tag)
		}
	}
	return nil
}

// NormaliseTags lowercases, trims and de-duplicates tags, keeping order.
func NormaliseTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// GenerateSlug creates a URL-safe slug from a name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
