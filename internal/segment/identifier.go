package segment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidIdentifier = errors.New("invalid segment identifier")

// IsSafeIdentifier rejects blank values and anything that could escape the
// cache root or an object prefix.
func IsSafeIdentifier(value string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}
	if strings.Contains(value, "..") || strings.ContainsAny(value, `/\`) {
		return false
	}
	return true
}

// IsValidMovieID accepts uuids and slugs alike; both only need to be safe
// as a path element.
func IsValidMovieID(movieID string) bool {
	return IsSafeIdentifier(movieID)
}

func Sanitize(segmentID string) string {
	return strings.TrimSpace(segmentID)
}

// Normalize turns a bare sequence number into the packager's media file name.
func Normalize(segmentID string) string {
	id := Sanitize(segmentID)
	if n, err := strconv.Atoi(id); err == nil && n >= 0 {
		return fmt.Sprintf("seg_%04d.m4s", n)
	}
	return id
}

// Validate checks a key before it is used to touch disk or origin.
func (k Key) Validate() error {
	if !IsValidMovieID(k.Movie) {
		return fmt.Errorf("%w: movie %q", ErrInvalidIdentifier, k.Movie)
	}
	if k.Quality != "" && !IsSafeIdentifier(k.Quality) {
		return fmt.Errorf("%w: quality %q", ErrInvalidIdentifier, k.Quality)
	}
	if !IsSafeIdentifier(Sanitize(k.Segment)) {
		return fmt.Errorf("%w: segment %q", ErrInvalidIdentifier, k.Segment)
	}
	return nil
}

// Extensions lists the origin file extensions to probe for a segment type,
// in order.
func Extensions(t Type) []string {
	switch t {
	case Init:
		return []string{"mp4", "m4s"}
	case MasterPlaylist, VariantPlaylist:
		return []string{"m3u8"}
	default:
		return []string{"m4s", "mp4"}
	}
}

// FileName appends ext unless segmentID already carries it.
func FileName(segmentID, ext string) string {
	if strings.HasSuffix(strings.ToLower(segmentID), "."+ext) {
		return segmentID
	}
	return segmentID + "." + ext
}
