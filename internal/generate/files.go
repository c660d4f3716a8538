package generate

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/user/gopherpaint/internal/types"
	"github.com/user/gopherpaint/pkg/media"
)

// detectImage reports the format of data if it decodes as a supported image.
func detectImage(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	_, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	return format, true
}

// loadReferences reads and re-encodes the first n references as PNG.
// Paths come before raw images.
func loadReferences(paths []string, raw [][]byte, n int) ([]media.Image, error) {
	const op = "encode reference"

	refs := make([]media.Image, 0, n)
	for _, p := range paths {
		if len(refs) == n {
			return refs, nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, types.E(types.KindEncodingFailure, op, err)
		}
		img, err := encodePNG(data)
		if err != nil {
			return nil, types.E(types.KindEncodingFailure, op, fmt.Errorf("%s: %w", p, err))
		}
		refs = append(refs, img)
	}
	for i, data := range raw {
		if len(refs) == n {
			return refs, nil
		}
		img, err := encodePNG(data)
		if err != nil {
			return nil, types.E(types.KindEncodingFailure, op, fmt.Errorf("image %d: %w", i, err))
		}
		refs = append(refs, img)
	}
	return refs, nil
}

func encodePNG(data []byte) (media.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return media.Image{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return media.Image{}, err
	}
	return media.Image{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

func writeBytes(path string, data []byte) error {
	return writeStream(path, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return types.E(types.KindStorageUnavailable, "write media", err)
		}
		return nil
	})
}

// writeStream fills a temp file next to path and renames it into place, so
// a failed generation never leaves a partial file behind. Errors from fill
// are request failures unless already classified; everything else is a
// storage failure.
func writeStream(path string, fill func(w io.Writer) error) error {
	const op = "write media"

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.E(types.KindStorageUnavailable, op, err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return types.E(types.KindStorageUnavailable, op, err)
	}
	tmp := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	if err := fill(f); err != nil {
		cleanup()
		if types.KindOf(err) != "" {
			return err
		}
		return types.E(types.KindRequestFailed, op, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return types.E(types.KindStorageUnavailable, op, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return types.E(types.KindStorageUnavailable, op, err)
	}
	return nil
}
