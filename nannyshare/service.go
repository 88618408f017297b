package nannyshare

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"nannynest/models"
	"nannynest/mq"
	"nannynest/pricing"
	"nannynest/utils"
	"nannynest/xerrors"

	"go.uber.org/zap"
)

const (
	defaultMaxFamilies = 2
	maxFamiliesLimit   = 6
	casAttempts        = 3
)

// Service runs nanny-share membership. Every change is a version CAS on
// the share, retried a few times when another request wins the race.
type Service struct {
	store  Store
	events mq.Publisher
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store Store, events mq.Publisher, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		events: events,
		log:    log.Named("nannyshare"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	Title        string
	Location     string
	Suburb       string
	RatePerHour  int64 // cents
	Schedule     string
	StartDate    time.Time
	EndDate      *time.Time
	Requirements string
	MaxFamilies  int
}

// Create opens a share with its creator as the first family.
func (s *Service) Create(ctx context.Context, creatorID string, req CreateRequest) (*models.NannyShare, error) {
	if creatorID == "" {
		return nil, xerrors.Invalid("creatorId", "is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, xerrors.Invalid("title", "is required")
	}
	if strings.TrimSpace(req.Suburb) == "" {
		return nil, xerrors.Invalid("suburb", "is required")
	}
	if req.RatePerHour <= 0 {
		return nil, xerrors.Invalid("ratePerHour", "must be positive")
	}
	if req.RatePerHour > pricing.MaxRatePerHour {
		return nil, xerrors.Invalid("ratePerHour", "must be at most "+pricing.Format(pricing.MaxRatePerHour))
	}
	if req.StartDate.IsZero() {
		return nil, xerrors.Invalid("startDate", "is required")
	}
	if req.EndDate != nil && req.EndDate.Before(req.StartDate) {
		return nil, xerrors.Invalid("endDate", "must not be before startDate")
	}
	if req.MaxFamilies == 0 {
		req.MaxFamilies = defaultMaxFamilies
	}
	if req.MaxFamilies < 2 || req.MaxFamilies > maxFamiliesLimit {
		return nil, xerrors.Invalid("maxFamilies", "must be between 2 and 6")
	}

	now := s.now()
	share := &models.NannyShare{
		ID:           utils.GetUUID(),
		CreatorID:    creatorID,
		Title:        strings.TrimSpace(req.Title),
		Location:     strings.TrimSpace(req.Location),
		Suburb:       strings.TrimSpace(req.Suburb),
		RatePerHour:  req.RatePerHour,
		Schedule:     req.Schedule,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Requirements: req.Requirements,
		MaxFamilies:  req.MaxFamilies,
		Participants: []string{creatorID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	share.SyncStatus()
	if err := s.store.Insert(ctx, share); err != nil {
		return nil, err
	}
	s.log.Info("nanny share created", zap.String("share_id", share.ID), zap.String("creator_id", creatorID))
	return share, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.NannyShare, error) {
	return s.store.Get(ctx, id)
}

// List returns shares still looking for families, optionally in one suburb.
func (s *Service) List(ctx context.Context, suburb string) ([]models.NannyShare, error) {
	shares, err := s.store.List(ctx, Filter{Suburb: strings.TrimSpace(suburb)})
	if err != nil {
		return nil, err
	}
	out := shares[:0]
	for _, sh := range shares {
		if sh.Status != models.ShareActive {
			out = append(out, sh)
		}
	}
	return out, nil
}

// ListForParent returns every share the parent belongs to, active or not.
func (s *Service) ListForParent(ctx context.Context, parentID string) ([]models.NannyShare, error) {
	return s.store.List(ctx, Filter{Participant: parentID})
}

// Members returns the share's families and nanny, visible to members only.
func (s *Service) Members(ctx context.Context, id, viewerID string) ([]string, error) {
	share, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !share.IsMember(viewerID) {
		return nil, xerrors.ErrForbidden
	}
	return share.Members(), nil
}

// Join adds a family. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, id, parentID string) (*models.NannyShare, error) {
	if parentID == "" {
		return nil, xerrors.Invalid("parentId", "is required")
	}
	var joined bool
	share, err := s.mutate(ctx, id, func(sh *models.NannyShare) (bool, error) {
		if sh.HasParticipant(parentID) {
			return false, nil
		}
		if sh.Status == models.ShareActive {
			return false, xerrors.ErrShareClosed
		}
		if len(sh.Participants) >= sh.MaxFamilies {
			return false, xerrors.ErrShareFull
		}
		sh.Participants = append(sh.Participants, parentID)
		joined = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if joined {
		s.emit(ctx, mq.ShareJoined, share.CreatorID, share, map[string]string{"parentId": parentID})
	}
	return share, nil
}

// Leave removes a family. The creator cannot leave their own share.
func (s *Service) Leave(ctx context.Context, id, parentID string) (*models.NannyShare, error) {
	return s.mutate(ctx, id, func(sh *models.NannyShare) (bool, error) {
		if parentID == sh.CreatorID {
			return false, xerrors.Invalid("parentId", "the creator cannot leave the share")
		}
		i := slices.Index(sh.Participants, parentID)
		if i < 0 {
			return false, xerrors.ErrForbidden
		}
		sh.Participants = slices.Delete(sh.Participants, i, i+1)
		return true, nil
	})
}

// AssignNanny lets the creator hire a caregiver, which activates the share.
func (s *Service) AssignNanny(ctx context.Context, id, creatorID, nannyID string) (*models.NannyShare, error) {
	if nannyID == "" {
		return nil, xerrors.Invalid("nannyId", "is required")
	}
	changed := false
	share, err := s.mutate(ctx, id, func(sh *models.NannyShare) (bool, error) {
		if sh.CreatorID != creatorID {
			return false, xerrors.ErrForbidden
		}
		if sh.HasParticipant(nannyID) {
			return false, xerrors.Invalid("nannyId", "a participating parent cannot be the nanny")
		}
		if sh.Status == models.ShareActive {
			if sh.NannyID == nannyID {
				return false, nil
			}
			return false, xerrors.Conflict("share already has a nanny")
		}
		sh.NannyID = nannyID
		sh.Status = models.ShareActive
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.emit(ctx, mq.ShareNannyAssigned, nannyID, share, nil)
	}
	return share, nil
}

// mutate loads the share, applies fn and writes it back with a version
// CAS. fn reports whether it changed anything.
func (s *Service) mutate(ctx context.Context, id string, fn func(*models.NannyShare) (bool, error)) (*models.NannyShare, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		share, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(share)
		if err != nil || !changed {
			return share, err
		}
		share.SyncStatus()
		share.UpdatedAt = s.now()
		err = s.store.Update(ctx, share)
		if err == nil {
			s.log.Info("nanny share updated",
				zap.String("share_id", share.ID),
				zap.String("status", string(share.Status)),
				zap.Int("participants", len(share.Participants)))
			return share, nil
		}
		if !errors.Is(err, xerrors.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) emit(ctx context.Context, name, recipient string, share *models.NannyShare, data map[string]string) {
	if s.events == nil || recipient == "" {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["title"] = share.Title
	err := s.events.Publish(ctx, mq.TopicNotify, mq.Event{
		Name:       name,
		Recipient:  recipient,
		ShareID:    share.ID,
		Data:       data,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.log.Warn("notify publish failed", zap.String("event", name), zap.Error(err))
	}
}
