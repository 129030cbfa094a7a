package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// AcceptEncoding is sent on redirected requests.
const AcceptEncoding = "gzip, deflate, br"

// DecodeContent undoes the Content-Encoding chain of a body. Codings are
// removed in reverse order of application. Unknown codings are an error.
func DecodeContent(contentEncoding string, body []byte, limit int64) ([]byte, error) {
	codings := splitCodings(contentEncoding)
	for i := len(codings) - 1; i >= 0; i-- {
		reader, err := decoderFor(codings[i], bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if reader == nil {
			continue
		}
		decoded, err := readLimited(reader, limit, codings[i])
		_ = reader.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s body: %w", codings[i], err)
		}
		body = decoded
	}
	return body, nil
}

func splitCodings(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func decoderFor(coding string, r io.Reader) (io.ReadCloser, error) {
	switch coding {
	case "identity":
		return nil, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decode gzip body: %w", err)
		}
		return zr, nil
	case "deflate":
		return flate.NewReader(r), nil
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}
}
