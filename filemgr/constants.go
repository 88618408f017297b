package filemgr

import "errors"

type PictureType string

const (
	PicPhoto PictureType = "photo"
	PicThumb PictureType = "thumb"
)

const (
	MaxPhotoSize     = 5 << 20
	MaxPhotosPerPost = 10
	PhotoMaxEdge     = 1200
	ThumbEdge        = 300
)

var (
	AllowedMIMEs = map[PictureType][]string{
		PicPhoto: {"image/jpeg", "image/png", "image/gif", "image/webp"},
		PicThumb: {"image/jpeg"},
	}

	PictureSubfolders = map[PictureType]string{
		PicPhoto: "photo",
		PicThumb: "thumb",
	}

	ErrInvalidMIME  = errors.New("invalid image type")
	ErrFileTooLarge = errors.New("file size exceeds limit")
	ErrUndecodable  = errors.New("image could not be decoded")
)
