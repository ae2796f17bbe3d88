// Package links is the cached view of the user's shortened URLs. Reads are
// served from memory while fresh; writes go to the API and invalidate what
// they touched.
package links

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/flylink/internal/api"
	"github.com/patric-chuzhbe/flylink/internal/logger"
	"github.com/patric-chuzhbe/flylink/internal/models"
)

const DefaultStaleTime = 5 * time.Minute

type urlAPI interface {
	ListAll(ctx context.Context) (*api.Envelope[models.URLList], error)
	GetByCode(ctx context.Context, code string) (*api.Envelope[models.URLResponse], error)
	CreateURL(ctx context.Context, req models.CreateURLRequest) (*api.Envelope[models.URLResponse], error)
	UpdateURL(ctx context.Context, code string, req models.UpdateURLRequest) (*api.Envelope[models.URLResponse], error)
	Delete(ctx context.Context, code string) (*api.Envelope[struct{}], error)
	ToggleActive(ctx context.Context, code string) (*api.Envelope[models.URLResponse], error)
}

type cachedList struct {
	urls      models.URLList
	fetchedAt time.Time
}

type cachedURL struct {
	url       models.URLResponse
	fetchedAt time.Time
}

type Option func(*Service)

func WithStaleTime(d time.Duration) Option {
	return func(s *Service) {
		s.staleTime = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	api       urlAPI
	staleTime time.Duration
	now       func() time.Time

	mu     sync.Mutex
	list   *cachedList
	byCode map[string]cachedURL
}

func New(client urlAPI, opts ...Option) *Service {
	s := &Service{
		api:       client,
		staleTime: DefaultStaleTime,
		now:       time.Now,
		byCode:    make(map[string]cachedURL),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) fresh(fetchedAt time.Time) bool {
	return s.now().Sub(fetchedAt) < s.staleTime
}

func cloneList(urls models.URLList) models.URLList {
	if urls == nil {
		return nil
	}

	return append(models.URLList(nil), urls...)
}

// List returns all URLs of the current user.
func (s *Service) List(ctx context.Context) (models.URLList, error) {
	s.mu.Lock()
	if s.list != nil && s.fresh(s.list.fetchedAt) {
		urls := cloneList(s.list.urls)
		s.mu.Unlock()
		return urls, nil
	}
	s.mu.Unlock()

	resp, err := s.api.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = &cachedList{urls: cloneList(resp.Data), fetchedAt: s.now()}

	return cloneList(resp.Data), nil
}

func (s *Service) Get(ctx context.Context, code string) (models.URLResponse, error) {
	s.mu.Lock()
	if cached, ok := s.byCode[code]; ok && s.fresh(cached.fetchedAt) {
		s.mu.Unlock()
		return cached.url, nil
	}
	s.mu.Unlock()

	resp, err := s.api.GetByCode(ctx, code)
	if err != nil {
		return models.URLResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCode[code] = cachedURL{url: resp.Data, fetchedAt: s.now()}

	return resp.Data, nil
}

func (s *Service) invalidate(codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.list = nil
	for _, code := range codes {
		delete(s.byCode, code)
	}
}

// Invalidate drops everything cached, e.g. after the session changed hands.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.list = nil
	s.byCode = make(map[string]cachedURL)
}

func (s *Service) Create(ctx context.Context, req models.CreateURLRequest) (models.URLResponse, error) {
	resp, err := s.api.CreateURL(ctx, req)
	if err != nil {
		return models.URLResponse{}, err
	}
	s.invalidate()

	return resp.Data, nil
}

func (s *Service) Update(ctx context.Context, code string, req models.UpdateURLRequest) (models.URLResponse, error) {
	resp, err := s.api.UpdateURL(ctx, code, req)
	if err != nil {
		return models.URLResponse{}, err
	}
	s.invalidate(code, resp.Data.Code)

	return resp.Data, nil
}

func (s *Service) Delete(ctx context.Context, code string) error {
	if _, err := s.api.Delete(ctx, code); err != nil {
		return err
	}
	s.invalidate(code)

	return nil
}

// Toggle flips the active flag in the cached list before the API confirms it.
// If the call fails the entry is flipped back, unless the list was dropped or
// refetched in the meantime.
func (s *Service) Toggle(ctx context.Context, code string) (models.URLResponse, error) {
	s.mu.Lock()
	flipped := s.list
	var wasActive *bool
	if flipped != nil {
		for i := range flipped.urls {
			if flipped.urls[i].Code == code {
				active := flipped.urls[i].IsActive
				wasActive = &active
				flipped.urls[i].IsActive = !active
			}
		}
	}
	s.mu.Unlock()

	resp, err := s.api.ToggleActive(ctx, code)
	if err != nil {
		if wasActive != nil {
			s.rollbackToggle(flipped, code, *wasActive)
		}
		return models.URLResponse{}, err
	}
	s.invalidate(code)

	return resp.Data, nil
}

func (s *Service) rollbackToggle(flipped *cachedList, code string, wasActive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.list != flipped {
		return
	}
	for i := range s.list.urls {
		if s.list.urls[i].Code == code {
			s.list.urls[i].IsActive = wasActive
		}
	}
	logger.Log.Debugw("rolled back optimistic toggle", "code", code)
}

// Filter narrows urls to the given state (nil keeps both) and to entries
// whose code or original URL contains query, case-insensitively.
func Filter(urls models.URLList, active *bool, query string) models.URLList {
	query = strings.ToLower(strings.TrimSpace(query))

	filtered := funk.Filter([]models.URLResponse(urls), func(u models.URLResponse) bool {
		if active != nil && u.IsActive != *active {
			return false
		}
		if query == "" {
			return true
		}

		return strings.Contains(strings.ToLower(u.Code), query) ||
			strings.Contains(strings.ToLower(u.OriginalURL), query)
	}).([]models.URLResponse)

	return models.URLList(filtered)
}
