package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// defaultMaxBodyBytes caps a response body, and separately each decoded
// Content-Encoding stage, when no limit is configured. STL exports of large
// assemblies run to hundreds of megabytes.
const defaultMaxBodyBytes int64 = 512 << 20

// BodyTooLargeError reports a body that outgrew the configured limit.
type BodyTooLargeError struct {
	Limit int64
	// Stage names what overflowed: "body" for the raw payload, otherwise the
	// content coding being undone.
	Stage string
}

func (e BodyTooLargeError) Error() string {
	return fmt.Sprintf("%s exceeded limit of %d bytes", e.Stage, e.Limit)
}

// IsBodyTooLarge reports whether err carries a BodyTooLargeError.
func IsBodyTooLarge(err error) bool {
	var tooLarge BodyTooLargeError
	return errors.As(err, &tooLarge)
}

// readLimited reads r to the end, failing once more than limit bytes arrive.
// A limit <= 0 reads without bound.
func readLimited(r io.Reader, limit int64, stage string) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, BodyTooLargeError{Limit: limit, Stage: stage}
	}
	return data, nil
}
