// Package validator classifies a render attempt by inspecting its output
// artifact. A clean exit code is never enough: the expected image must exist
// and decode.
package validator

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/harrison/rendertest/internal/fileutil"
	"github.com/harrison/rendertest/internal/models"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ThumbnailSize is the edge length of the decode probe.
const ThumbnailSize = 64

// Messages written into the case report.
const (
	MsgImageNotFound  = "image not found"
	MsgImageTruncated = "output image is truncated"
)

// Outcome is the validator's verdict for one attempt.
type Outcome struct {
	Status  string
	Message string
}

// Validate probes the artifact at expected and publishes it to dest when it
// is worth looking at. A missing file is a crash; a truncated image is a
// diff and is still published; any other decode failure is a crash and
// leaves dest untouched.
func Validate(expected, dest string) Outcome {
	if _, err := os.Stat(expected); err != nil {
		return Outcome{Status: models.StatusCrash, Message: MsgImageNotFound}
	}

	outcome := Outcome{Status: models.StatusSuccess}
	if err := Probe(expected); err != nil {
		if !IsTruncated(err) {
			return Outcome{Status: models.StatusCrash, Message: fmt.Sprintf("failed to read image: %v", err)}
		}
		outcome = Outcome{Status: models.StatusDiff, Message: MsgImageTruncated}
	}

	if err := fileutil.CopyFile(expected, dest); err != nil {
		return Outcome{Status: models.StatusCrash, Message: fmt.Sprintf("failed to publish image: %v", err)}
	}
	return outcome
}

// Probe decodes the image at path and scales it to a thumbnail.
func Probe(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return err
	}
	if src.Bounds().Empty() {
		return errors.New("image has no pixels")
	}

	thumb := image.NewRGBA(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), src, src.Bounds(), draw.Src, nil)
	return nil
}

// IsTruncated reports whether a decode error means the file ended early.
// image/png reports a short IDAT stream as "not enough pixel data".
func IsTruncated(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "truncated") ||
		strings.Contains(msg, "not enough pixel data")
}
