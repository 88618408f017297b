package filemgr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"slices"
	"time"

	"nannynest/models"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

// Processor validates uploaded photos, normalises them to JPEG and stores
// the photo with its thumbnail.
type Processor struct {
	storage Storage
	log     *zap.Logger
	now     func() time.Time
}

func NewProcessor(storage Storage, log *zap.Logger) *Processor {
	return &Processor{
		storage: storage,
		log:     log.Named("filemgr"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func isMIMEAllowed(mimeType string, picType PictureType) bool {
	return slices.Contains(AllowedMIMEs[picType], mimeType)
}

// sniff reads the whole file, capped at MaxPhotoSize, and checks its
// content type from the bytes rather than the client's header.
func sniff(r io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPhotoSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxPhotoSize {
		return nil, "", ErrFileTooLarge
	}
	mimeType := http.DetectContentType(data)
	if !isMIMEAllowed(mimeType, PicPhoto) {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidMIME, mimeType)
	}
	return data, mimeType, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	// re-encoding also drops EXIF, including GPS tags
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Process stores one photo for ownerID.
func (p *Processor) Process(ctx context.Context, ownerID string, r io.Reader) (models.Photo, error) {
	data, mimeType, err := sniff(r)
	if err != nil {
		return models.Photo{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.Photo{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	b := img.Bounds()
	if b.Dx() > PhotoMaxEdge || b.Dy() > PhotoMaxEdge {
		img = imaging.Fit(img, PhotoMaxEdge, PhotoMaxEdge, imaging.Lanczos)
	}
	full, err := encodeJPEG(img)
	if err != nil {
		return models.Photo{}, fmt.Errorf("encode photo: %w", err)
	}
	thumb, err := encodeJPEG(imaging.Thumbnail(img, ThumbEdge, ThumbEdge, imaging.Lanczos))
	if err != nil {
		return models.Photo{}, fmt.Errorf("encode thumbnail: %w", err)
	}

	name := uuid.New().String() + ".jpg"
	fullURL, err := p.storage.Put(ctx, path.Join("user", ownerID, PictureSubfolders[PicPhoto], name), "image/jpeg", full)
	if err != nil {
		return models.Photo{}, err
	}
	thumbURL, err := p.storage.Put(ctx, path.Join("user", ownerID, PictureSubfolders[PicThumb], name), "image/jpeg", thumb)
	if err != nil {
		return models.Photo{}, err
	}

	fb := img.Bounds()
	p.log.Debug("photo stored",
		zap.String("owner_id", ownerID),
		zap.String("source_type", mimeType),
		zap.Int("bytes", len(full)))
	return models.Photo{
		URL:      fullURL,
		ThumbURL: thumbURL,
		Width:    fb.Dx(),
		Height:   fb.Dy(),
		AddedAt:  p.now(),
	}, nil
}

// ProcessAll handles every file of a multipart field and stops at the
// first bad one.
func (p *Processor) ProcessAll(ctx context.Context, ownerID string, files []*multipart.FileHeader) ([]models.Photo, error) {
	out := make([]models.Photo, 0, len(files))
	for _, fh := range files {
		if fh.Size > MaxPhotoSize {
			return nil, fmt.Errorf("%s: %w", fh.Filename, ErrFileTooLarge)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		photo, err := p.Process(ctx, ownerID, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		out = append(out, photo)
	}
	return out, nil
}
