package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/m4xw311/thinkact/errors"
)

// maxImageBytes bounds the size of a fetched image.
const maxImageBytes = 20 << 20

// fetchImage downloads imageURL and returns its bytes and Content-Type.
func fetchImage(ctx context.Context, client *http.Client, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", errors.Wrapf(err, "invalid image url")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", errors.Wrapf(err, "image fetch connection failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &ProviderError{
			Provider:   "image-fetch",
			StatusCode: resp.StatusCode,
			Message:    "could not fetch image " + imageURL,
		}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading image body")
	}
	if len(data) > maxImageBytes {
		return nil, "", errors.New("image at %s exceeds %d bytes", imageURL, maxImageBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// imageMediaType identifies PNG, JPEG, GIF and WEBP by their magic bytes
// and falls back to the Content-Type header, then to JPEG.
func imageMediaType(data []byte, header string) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	}
	if mt, _, _ := strings.Cut(header, ";"); strings.HasPrefix(strings.TrimSpace(mt), "image/") {
		return strings.TrimSpace(mt)
	}
	return "image/jpeg"
}
