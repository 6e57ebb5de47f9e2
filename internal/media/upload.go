package media

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
)

const (
	MaxPhotoBytes = 5 << 20

	// multipart framing on top of the file itself
	formOverheadBytes = 1 << 20
)

var (
	ErrNoPhoto          = errors.New("photo file is required")
	ErrUnsupportedPhoto = errors.New("unsupported photo type")
	ErrPhotoTooLarge    = errors.New("photo is too large")
)

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type PhotoUpload struct {
	Data        []byte
	ContentType string
	Extension   string
}

// ReadPhotoUpload pulls a single image out of the multipart field and checks
// its type and size.
func ReadPhotoUpload(w http.ResponseWriter, r *http.Request, field string) (PhotoUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxPhotoBytes+formOverheadBytes)
	if err := r.ParseMultipartForm(MaxPhotoBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return PhotoUpload{}, ErrPhotoTooLarge
		}
		return PhotoUpload{}, ErrNoPhoto
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return PhotoUpload{}, ErrNoPhoto
	}
	defer file.Close()

	contentType := normalizeContentType(header.Header.Get("Content-Type"))
	ext, ok := photoExtensions[contentType]
	if !ok {
		return PhotoUpload{}, ErrUnsupportedPhoto
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxPhotoBytes+1))
	if err != nil {
		return PhotoUpload{}, ErrNoPhoto
	}
	if len(data) == 0 {
		return PhotoUpload{}, ErrNoPhoto
	}
	if len(data) > MaxPhotoBytes {
		return PhotoUpload{}, ErrPhotoTooLarge
	}

	return PhotoUpload{Data: data, ContentType: contentType, Extension: ext}, nil
}

func normalizeContentType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return strings.ToLower(value)
	}
	return strings.ToLower(mediaType)
}
