package sims

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/SimKeeper/internal/broker/messages"
	"github.com/BearBump/SimKeeper/internal/cache"
	"github.com/BearBump/SimKeeper/internal/expiry"
	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrInvalidInput = errors.New("invalid input")

type Repository interface {
	LoadAll(ctx context.Context) ([]*models.SimCard, error)
	Get(ctx context.Context, id string) (*models.SimCard, error)
	Create(ctx context.Context, sc *models.SimCard) error
	Update(ctx context.Context, sc *models.SimCard) error
	UpdateLastUsage(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// SimView is a card together with its expiry evaluation at read time.
type SimView struct {
	models.SimCard
	expiry.Evaluation
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
	policy     expiry.Policy
	now        func() time.Time
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		cache:      c,
		currentTTL: currentTTL,
		policy:     expiry.DefaultPolicy(),
		now:        time.Now,
	}
}

func (s *Service) WithPolicy(p expiry.Policy) *Service {
	s.policy = p.WithDefaults()
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) view(sc *models.SimCard) *SimView {
	return &SimView{SimCard: *sc, Evaluation: s.policy.Evaluate(sc.LastUsageDate, s.now())}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

func (s *Service) Create(ctx context.Context, in models.SimCardCreateInput) (*SimView, error) {
	sc := &models.SimCard{
		ID:            uuid.NewString(),
		Label:         strings.TrimSpace(in.Label),
		PhoneNumber:   strings.TrimSpace(in.PhoneNumber),
		LastUsageDate: in.LastUsageDate,
		Notes:         in.Notes,
	}
	if sc.LastUsageDate.IsZero() {
		sc.LastUsageDate = s.now()
	}
	sc.LastUsageDate = sc.LastUsageDate.UTC()
	if err := validate(sc); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, sc); err != nil {
		return nil, err
	}
	s.store(ctx, sc)
	return s.view(sc), nil
}

func (s *Service) Update(ctx context.Context, id string, p models.SimCardPatch) (*SimView, error) {
	if id == "" {
		return nil, errors.Wrap(ErrInvalidInput, "id is required")
	}
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Label != nil {
		sc.Label = strings.TrimSpace(*p.Label)
	}
	if p.PhoneNumber != nil {
		sc.PhoneNumber = strings.TrimSpace(*p.PhoneNumber)
	}
	if p.LastUsageDate != nil {
		sc.LastUsageDate = p.LastUsageDate.UTC()
	}
	if p.Notes != nil {
		sc.Notes = *p.Notes
	}
	if err := validate(sc); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, sc); err != nil {
		return nil, err
	}
	s.store(ctx, sc)
	return s.view(sc), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.Wrap(ErrInvalidInput, "id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.cacheEnabled() {
		_ = s.cache.Delete(ctx, currentKey(id))
	}
	return nil
}

// ConfirmUsage records that the line was just used by hand (call, text or data).
func (s *Service) ConfirmUsage(ctx context.Context, id string) (*SimView, error) {
	if id == "" {
		return nil, errors.Wrap(ErrInvalidInput, "id is required")
	}
	if err := s.repo.UpdateLastUsage(ctx, id, s.now().UTC()); err != nil {
		return nil, err
	}
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, sc)
	return s.view(sc), nil
}

func (s *Service) Get(ctx context.Context, id string) (*SimView, error) {
	if id == "" {
		return nil, errors.Wrap(ErrInvalidInput, "id is required")
	}
	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, currentKey(id))
		if err == nil && ok {
			var sc models.SimCard
			if json.Unmarshal(b, &sc) == nil {
				return s.view(&sc), nil
			}
		}
	}

	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, sc)
	return s.view(sc), nil
}

// List always reads the store: the list view must reflect deletions immediately.
func (s *Service) List(ctx context.Context) ([]*SimView, error) {
	all, err := s.repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*SimView, 0, len(all))
	for _, sc := range all {
		out = append(out, s.view(sc))
	}
	return out, nil
}

// ApplyDispatchEvent refreshes the cached card after the worker advanced its last usage date.
func (s *Service) ApplyDispatchEvent(ctx context.Context, msg messages.KeepAliveDispatched) error {
	if msg.SimID == "" {
		return errors.New("sim_id is required")
	}
	if !msg.Success || msg.LastUsageDate == nil || !s.cacheEnabled() {
		return nil
	}

	sc, err := s.repo.Get(ctx, msg.SimID)
	if err != nil {
		if errors.Is(err, models.ErrSimNotFound) {
			_ = s.cache.Delete(ctx, currentKey(msg.SimID))
			return nil
		}
		return err
	}
	s.store(ctx, sc)
	return nil
}

func (s *Service) store(ctx context.Context, sc *models.SimCard) {
	if !s.cacheEnabled() {
		return
	}
	b, _ := json.Marshal(sc)
	_ = s.cache.Set(ctx, currentKey(sc.ID), b, s.currentTTL)
}

func validate(sc *models.SimCard) error {
	if sc.Label == "" {
		return errors.Wrap(ErrInvalidInput, "label is required")
	}
	if sc.PhoneNumber == "" {
		return errors.Wrap(ErrInvalidInput, "phoneNumber is required")
	}
	// номер без цифр абонента не даст корректного keep-alive
	if err := expiry.ValidatePayload(expiry.FormatPayloadNumber(sc.PhoneNumber)); err != nil {
		return errors.Wrapf(ErrInvalidInput, "phoneNumber %q: %v", sc.PhoneNumber, err)
	}
	return nil
}

func currentKey(id string) string {
	return fmt.Sprintf("sim:%s:current", id)
}
