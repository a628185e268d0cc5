package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrPlaceEmpty is returned when the place query is empty or whitespace-only after trim.
var ErrPlaceEmpty = errors.New("place is required")

// ErrPlaceTooLong is returned when the place query exceeds the maximum length.
var ErrPlaceTooLong = errors.New("place too long")

// ErrPlaceInvalidChars is returned when the place query contains disallowed characters.
var ErrPlaceInvalidChars = errors.New("place contains invalid characters")

// ErrCoordinateOutOfRange is returned when a latitude or longitude is outside
// its valid range.
var ErrCoordinateOutOfRange = errors.New("coordinate out of range")

// ValidatePlace trims the input, enforces the maximum length (in runes), and
// restricts to allowed characters: letters (Unicode), digits, space, comma,
// hyphen, apostrophe, period. Returns the trimmed string or an error suitable
// for 400 INVALID_PLACE responses. The raw (trimmed) casing is preserved
// because geocode cache keys are case-sensitive.
func ValidatePlace(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrPlaceEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrPlaceTooLong
	}
	for _, c := range r {
		if !isAllowedPlaceRune(c) {
			return "", ErrPlaceInvalidChars
		}
	}
	return s, nil
}

// isAllowedPlaceRune returns true for letters (Unicode), digits, space,
// comma, hyphen, apostrophe, period.
func isAllowedPlaceRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

// ValidateCoordinates checks that lat is within [-90, 90] and lon within
// [-180, 180].
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return ErrCoordinateOutOfRange
	}
	if lon < -180 || lon > 180 {
		return ErrCoordinateOutOfRange
	}
	return nil
}
