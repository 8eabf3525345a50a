package adapter

import (
	"bytes"

	"github.com/disintegration/imaging"
	"github.com/m-mizutani/goerr/v2"
)

// clipInputSize is the square input resolution of ViT-B/32
const clipInputSize = 224

// EncodedImage is an image ready to be sent to an image embedder
type EncodedImage struct {
	Data     []byte
	MIMEType string
}

// LoadImage decodes the file, fixes EXIF orientation, shrinks it to the CLIP
// input size and re-encodes it as JPEG. Unreadable or non-image files fail here.
func LoadImage(path string) (*EncodedImage, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open image", goerr.V("path", path))
	}

	b := img.Bounds()
	if b.Dx() > clipInputSize || b.Dy() > clipInputSize {
		img = imaging.Fit(img, clipInputSize, clipInputSize, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, goerr.Wrap(err, "failed to encode image", goerr.V("path", path))
	}

	return &EncodedImage{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
	}, nil
}
