package evidence

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

// MaxPhotoSize bounds what a capturer accepts for a single proof photo.
const MaxPhotoSize = 20 << 20

// Photo is one captured image. Data is never empty for a Photo built through
// NewPhoto.
type Photo struct {
	Data        []byte
	FileName    string
	ContentType string
}

// NewPhoto validates data as an image and sniffs its content type.
func NewPhoto(data []byte, fileName string) (*Photo, error) {
	if len(data) == 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "evidence required", nil)
	}
	if len(data) > MaxPhotoSize {
		return nil, cerr.NewError(cerr.OutOfRange,
			fmt.Sprintf("photo is larger than %d MB", MaxPhotoSize>>20), nil)
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("%s is not an image (%s)", fileName, contentType), nil)
	}
	if fileName == "" {
		fileName = "proof" + Extension(contentType)
	}
	return &Photo{Data: data, FileName: fileName, ContentType: contentType}, nil
}

func (p *Photo) Empty() bool {
	return p == nil || len(p.Data) == 0
}

// Extension maps an image content type to the file extension used when the
// photo is stored.
func Extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}

// Capturer produces a proof photo. Capturing is one-shot; callers decide
// whether to try again.
type Capturer interface {
	Capture(ctx context.Context) (*Photo, error)
}

// FileCapturer reads the photo from a file on disk.
type FileCapturer struct {
	Path string
}

func (c FileCapturer) Capture(ctx context.Context) (*Photo, error) {
	if err := ctx.Err(); err != nil {
		return nil, cerr.NewError(cerr.Canceled, "capture canceled", err)
	}
	if c.Path == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "evidence required", nil)
	}
	info, err := os.Stat(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("photo %s does not exist", c.Path), err)
		}
		return nil, cerr.NewError(cerr.Internal, "cannot read photo", err)
	}
	if info.IsDir() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("%s is a directory", c.Path), nil)
	}
	if info.Size() > MaxPhotoSize {
		return nil, cerr.NewError(cerr.OutOfRange,
			fmt.Sprintf("photo is larger than %d MB", MaxPhotoSize>>20), nil)
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "cannot read photo", err)
	}
	return NewPhoto(data, filepath.Base(c.Path))
}
