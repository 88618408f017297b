package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nannynest/metrics"
	"nannynest/models"
	"nannynest/mq"
	"nannynest/pricing"
	"nannynest/utils"
	"nannynest/xerrors"

	"go.uber.org/zap"
)

const backgroundCheckValidity = 365 * 24 * time.Hour

// Authority receives submitted records for review and returns its own
// reference for them.
type Authority interface {
	Dispatch(ctx context.Context, rec *models.VerificationRecord) (reference string, err error)
}

// ManualAuthority queues records for staff to check against the state
// registers; decisions come back through the decision endpoint.
type ManualAuthority struct{}

func (ManualAuthority) Dispatch(_ context.Context, rec *models.VerificationRecord) (string, error) {
	return "manual-" + rec.ID, nil
}

type Registry struct {
	store     Store
	authority Authority
	events    mq.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewRegistry(store Store, authority Authority, events mq.Publisher, log *zap.Logger) *Registry {
	return &Registry{
		store:     store,
		authority: authority,
		events:    events,
		log:       log.Named("verify"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type WWCCPayload struct {
	WWCCNumber string `json:"wwccNumber"`
	State      string `json:"state"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	ExpiryDate string `json:"expiryDate"`
}

type BackgroundCheckPayload struct {
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	DateOfBirth string   `json:"dateOfBirth"`
	Address     string   `json:"address"`
	CheckTypes  []string `json:"checkTypes"`
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return xerrors.Invalid(field, "is required")
	}
	return nil
}

// Submit decodes payload according to typ and submits it.
func (r *Registry) Submit(ctx context.Context, subjectID string, typ models.VerificationType, payload json.RawMessage) (*models.VerificationRecord, error) {
	switch typ {
	case models.VerificationWWCC:
		var p WWCCPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, xerrors.Invalid("", "invalid WWCC payload")
		}
		return r.SubmitWWCC(ctx, subjectID, p)
	case models.VerificationBackgroundCheck:
		var p BackgroundCheckPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, xerrors.Invalid("", "invalid background check payload")
		}
		return r.SubmitBackgroundCheck(ctx, subjectID, p)
	default:
		return nil, xerrors.Invalid("type", "unknown verification type")
	}
}

// SubmitWWCC validates a Working With Children Check and stores it pending.
func (r *Registry) SubmitWWCC(ctx context.Context, subjectID string, p WWCCPayload) (*models.VerificationRecord, error) {
	if err := required("subjectId", subjectID); err != nil {
		return nil, err
	}
	for _, f := range []struct{ name, v string }{
		{"wwccNumber", p.WWCCNumber},
		{"state", p.State},
		{"firstName", p.FirstName},
		{"lastName", p.LastName},
		{"expiryDate", p.ExpiryDate},
	} {
		if err := required(f.name, f.v); err != nil {
			return nil, err
		}
	}

	provider, ok := Provider(p.State)
	if !ok {
		return nil, xerrors.Invalid("state", "WWCC verification not supported for "+p.State)
	}
	number := strings.ToUpper(strings.TrimSpace(p.WWCCNumber))
	if !provider.numberFormat.MatchString(number) {
		return nil, xerrors.Invalid("wwccNumber", fmt.Sprintf("invalid %s format, expected e.g. %s", provider.State, provider.example))
	}
	expiry, err := pricing.ParseDate("expiryDate", p.ExpiryDate)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if !expiry.After(now) {
		return nil, xerrors.Invalid("expiryDate", "check has expired")
	}

	rec := &models.VerificationRecord{
		ID:           utils.GetUUID(),
		SubjectID:    subjectID,
		Type:         models.VerificationWWCC,
		State:        models.VerificationPending,
		ExpiryDate:   expiry,
		Jurisdiction: provider.State,
		Number:       number,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		Provider:     provider.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return r.insert(ctx, rec)
}

// SubmitBackgroundCheck stores a pending check valid for one year.
func (r *Registry) SubmitBackgroundCheck(ctx context.Context, subjectID string, p BackgroundCheckPayload) (*models.VerificationRecord, error) {
	if err := required("subjectId", subjectID); err != nil {
		return nil, err
	}
	for _, f := range []struct{ name, v string }{
		{"firstName", p.FirstName},
		{"lastName", p.LastName},
		{"dateOfBirth", p.DateOfBirth},
		{"address", p.Address},
	} {
		if err := required(f.name, f.v); err != nil {
			return nil, err
		}
	}
	dob, err := pricing.ParseDate("dateOfBirth", p.DateOfBirth)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if !dob.Before(now) {
		return nil, xerrors.Invalid("dateOfBirth", "must be in the past")
	}
	if len(p.CheckTypes) == 0 {
		return nil, xerrors.Invalid("checkTypes", "at least one check type is required")
	}
	for _, ct := range p.CheckTypes {
		if _, ok := backgroundCheckTypes[ct]; !ok {
			return nil, xerrors.Invalid("checkTypes", "unknown check type "+ct)
		}
	}

	rec := &models.VerificationRecord{
		ID:          utils.GetUUID(),
		SubjectID:   subjectID,
		Type:        models.VerificationBackgroundCheck,
		State:       models.VerificationPending,
		ExpiryDate:  now.Add(backgroundCheckValidity),
		FirstName:   strings.TrimSpace(p.FirstName),
		LastName:    strings.TrimSpace(p.LastName),
		DateOfBirth: dob.Format("2006-01-02"),
		Address:     strings.TrimSpace(p.Address),
		CheckTypes:  p.CheckTypes,
		Provider:    backgroundProvider(p.CheckTypes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return r.insert(ctx, rec)
}

func (r *Registry) insert(ctx context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error) {
	if err := r.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}
	metrics.VerificationsSubmitted.WithLabelValues(string(rec.Type)).Inc()
	r.log.Info("verification submitted",
		zap.String("record_id", rec.ID),
		zap.String("subject_id", rec.SubjectID),
		zap.String("type", string(rec.Type)))

	if r.events != nil {
		err := r.events.Publish(ctx, mq.TopicVerification, mq.Event{
			Name:       mq.VerificationSubmitted,
			Recipient:  rec.SubjectID,
			RecordID:   rec.ID,
			OccurredAt: r.now(),
		})
		if err != nil {
			// record stays pending
			r.log.Warn("dispatch event not published", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
	return rec, nil
}

// Dispatch hands a pending record to the authority and marks it in review.
func (r *Registry) Dispatch(ctx context.Context, recordID string) (*models.VerificationRecord, error) {
	rec, err := r.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.State != models.VerificationPending {
		return rec, nil
	}
	ref, err := r.authority.Dispatch(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("dispatch to authority: %w", err)
	}
	out, err := r.store.Transition(ctx, recordID,
		[]models.VerificationState{models.VerificationPending},
		StateChange{State: models.VerificationInReview, Reference: ref, At: r.now()})
	if err != nil {
		return nil, err
	}
	r.log.Info("verification in review", zap.String("record_id", recordID), zap.String("reference", ref))
	return out, nil
}

// HandleEvent is the verification worker.
func (r *Registry) HandleEvent(ctx context.Context, evt mq.Event) error {
	if evt.Name != mq.VerificationSubmitted {
		return nil
	}
	_, err := r.Dispatch(ctx, evt.RecordID)
	return err
}

// Decide records the authority's outcome. Decided records never change.
func (r *Registry) Decide(ctx context.Context, recordID string, approved bool, reason string) (*models.VerificationRecord, error) {
	state := models.VerificationRejected
	if approved {
		state = models.VerificationApproved
	}
	rec, err := r.store.Transition(ctx, recordID,
		[]models.VerificationState{models.VerificationPending, models.VerificationInReview},
		StateChange{State: state, Reason: reason, At: r.now()})
	if err != nil {
		return nil, err
	}
	metrics.VerificationsDecided.WithLabelValues(string(state)).Inc()
	r.log.Info("verification decided", zap.String("record_id", recordID), zap.String("state", string(state)))

	if r.events != nil {
		err := r.events.Publish(ctx, mq.TopicNotify, mq.Event{
			Name:       mq.VerificationDecided,
			Recipient:  rec.SubjectID,
			RecordID:   rec.ID,
			Data:       map[string]string{"type": string(rec.Type), "state": string(rec.State)},
			OccurredAt: r.now(),
		})
		if err != nil {
			r.log.Warn("notify publish failed", zap.Error(err))
		}
	}
	return rec, nil
}

type StatusReport struct {
	SubjectID            string                                                 `json:"subjectId"`
	Records              map[models.VerificationType]*models.VerificationRecord `json:"records"`
	Verified             map[models.VerificationType]bool                       `json:"verified"`
	CanListPublicProfile bool                                                   `json:"canListPublicProfile"`
}

// Status reports the latest record of each type. A type counts as
// verified only while that latest record is approved and unexpired.
func (r *Registry) Status(ctx context.Context, subjectID string) (*StatusReport, error) {
	recs, err := r.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	rep := &StatusReport{
		SubjectID: subjectID,
		Records:   make(map[models.VerificationType]*models.VerificationRecord),
		Verified:  make(map[models.VerificationType]bool),
	}
	for i := range recs {
		if _, seen := rep.Records[recs[i].Type]; !seen {
			rep.Records[recs[i].Type] = &recs[i]
		}
	}
	now := r.now()
	rep.CanListPublicProfile = true
	for _, t := range models.MandatoryVerifications {
		rec := rep.Records[t]
		ok := rec != nil && rec.Active(now)
		rep.Verified[t] = ok
		if !ok {
			rep.CanListPublicProfile = false
		}
	}
	return rep, nil
}

// SweepExpiring warns subjects whose approved checks lapse within window.
// Each record is warned about once; it returns how many were warned.
func (r *Registry) SweepExpiring(ctx context.Context, window time.Duration) (int, error) {
	now := r.now()
	recs, err := r.store.ApprovedExpiringBetween(ctx, now, now.Add(window))
	if err != nil {
		return 0, fmt.Errorf("list expiring: %w", err)
	}
	warned := 0
	for _, rec := range recs {
		claimed, err := r.store.MarkExpiryWarned(ctx, rec.ID, now)
		if err != nil {
			r.log.Warn("expiry warning not recorded", zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		warned++
		if r.events == nil {
			continue
		}
		err = r.events.Publish(ctx, mq.TopicNotify, mq.Event{
			Name:      mq.VerificationExpiring,
			Recipient: rec.SubjectID,
			RecordID:  rec.ID,
			Data: map[string]string{
				"type":       string(rec.Type),
				"expiryDate": rec.ExpiryDate.Format("2006-01-02"),
			},
			OccurredAt: now,
		})
		if err != nil {
			r.log.Warn("expiry warning not published", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
	r.log.Info("expiry sweep", zap.Int("expiring", len(recs)), zap.Int("warned", warned))
	return warned, nil
}
