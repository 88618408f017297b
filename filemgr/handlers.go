package filemgr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"nannynest/models"
	"nannynest/utils"
	"nannynest/xerrors"

	"github.com/julienschmidt/httprouter"
)

// PhotoStore keeps the profile gallery.
type PhotoStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	AddPhotos(ctx context.Context, id string, photos []models.Photo) (*models.User, error)
}

type Handlers struct {
	proc       *Processor
	store      PhotoStore
	maxPerUser int
}

func NewHandlers(proc *Processor, store PhotoStore, maxPerUser int) *Handlers {
	return &Handlers{proc: proc, store: store, maxPerUser: maxPerUser}
}

func uploadError(err error) error {
	if errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrInvalidMIME) || errors.Is(err, ErrUndecodable) {
		return xerrors.Invalid("photos", err.Error())
	}
	return err
}

// POST /api/upload-profile-photos (multipart field "photos")
func (h *Handlers) UploadProfilePhotos(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxPhotosPerPost*MaxPhotoSize+1<<20)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		utils.RespondWithErr(w, xerrors.Invalid("photos", "unable to parse form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		utils.RespondWithErr(w, xerrors.Invalid("photos", "no files uploaded"))
		return
	}
	if len(files) > MaxPhotosPerPost {
		utils.RespondWithErr(w, xerrors.Invalid("photos", fmt.Sprintf("at most %d files per upload", MaxPhotosPerPost)))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	userID := utils.GetUserIDFromRequest(r)
	u, err := h.store.GetByID(ctx, userID)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	if len(u.Photos)+len(files) > h.maxPerUser {
		utils.RespondWithErr(w, xerrors.Invalid("photos", fmt.Sprintf("profile already has %d of %d photos", len(u.Photos), h.maxPerUser)))
		return
	}

	photos, err := h.proc.ProcessAll(ctx, userID, files)
	if err != nil {
		utils.RespondWithErr(w, uploadError(err))
		return
	}
	u, err = h.store.AddPhotos(ctx, userID, photos)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{
		"uploaded": photos,
		"photos":   u.Photos,
	})
}
