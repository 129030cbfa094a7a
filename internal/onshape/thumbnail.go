package onshape

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "cadbridge/internal/errors"
)

// ParseSize splits a "WxH" size string.
func ParseSize(size string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(size)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("thumbnail size %q is not WxH", size)
	}
	if width, err = strconv.Atoi(w); err != nil {
		return 0, 0, fmt.Errorf("thumbnail width in %q: %w", size, err)
	}
	if height, err = strconv.Atoi(h); err != nil {
		return 0, 0, fmt.Errorf("thumbnail height in %q: %w", size, err)
	}
	return width, height, nil
}

// SelectSmallest returns the href of the variant with the smallest height.
// Ties keep the first variant. Variants whose size does not parse are
// ignored; if none remain the result wraps errors.ErrNotFound.
func SelectSmallest(variants []ThumbnailVariant) (string, error) {
	best := -1
	bestHeight := 0
	for i, v := range variants {
		_, height, err := ParseSize(v.Size)
		if err != nil {
			continue
		}
		if best < 0 || height < bestHeight {
			best = i
			bestHeight = height
		}
	}
	if best < 0 {
		return "", fmt.Errorf("select thumbnail from %d variants: %w", len(variants), apperrors.ErrNotFound)
	}
	return variants[best].Href, nil
}
