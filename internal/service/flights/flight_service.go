package flights

import (
	"context"

	"github.com/Domenick1991/aimtravel/internal/cache"
	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/metrics"
	"github.com/Domenick1991/aimtravel/internal/repository"
	"github.com/rs/zerolog"
)

type FlightUseCase interface {
	List(ctx context.Context) ([]domain.Flight, error)
	GetByID(ctx context.Context, id int64) (*domain.Flight, error)
	Search(ctx context.Context, criteria domain.SearchCriteria, page, size int) (*domain.SearchResult, error)
}

type SearchCache interface {
	GetSearch(ctx context.Context, key string) (*cache.SearchEntry, error)
	SetSearch(ctx context.Context, key string, entry *cache.SearchEntry) error
}

type FlightService struct {
	repo            repository.FlightRepository
	cache           SearchCache
	defaultPageSize int
	log             zerolog.Logger
}

type FlightServiceOption func(*FlightService)

func WithCache(c SearchCache) FlightServiceOption {
	return func(s *FlightService) { s.cache = c }
}

func WithDefaultPageSize(size int) FlightServiceOption {
	return func(s *FlightService) {
		if size > 0 {
			s.defaultPageSize = size
		}
	}
}

func NewFlightService(repo repository.FlightRepository, opts ...FlightServiceOption) *FlightService {
	s := &FlightService{
		repo:            repo,
		defaultPageSize: 10,
		log:             logger.WithComponent("flights"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FlightService) List(ctx context.Context) ([]domain.Flight, error) {
	return s.repo.List(ctx)
}

func (s *FlightService) GetByID(ctx context.Context, id int64) (*domain.Flight, error) {
	return s.repo.GetByID(ctx, id)
}

// Search returns one page of outbound offers plus, for a round trip, every
// return offer. page is 1-based; size <= 0 selects the default page size.
func (s *FlightService) Search(ctx context.Context, criteria domain.SearchCriteria, page, size int) (*domain.SearchResult, error) {
	if err := criteria.Validate(); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("invalid", "none").Inc()
		return nil, err
	}
	criteria = criteria.Normalize()
	if size <= 0 {
		size = s.defaultPageSize
	}

	entry, cacheStatus := s.cached(ctx, criteria.Key())
	if entry == nil {
		var err error
		entry, err = s.load(ctx, criteria)
		if err != nil {
			metrics.SearchRequestsTotal.WithLabelValues("error", cacheStatus).Inc()
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetSearch(ctx, criteria.Key(), entry); err != nil {
				s.log.Warn().Err(err).Str("key", criteria.Key()).Msg("search cache write failed")
			}
		}
	}

	pagination := domain.NewPagination(page, size, len(entry.Outbound))
	result := &domain.SearchResult{
		Outbound:   pageOf(entry.Outbound, pagination),
		Return:     entry.Return,
		Pagination: pagination,
	}
	if result.Return == nil {
		result.Return = []domain.TicketOffer{}
	}

	metrics.SearchRequestsTotal.WithLabelValues("ok", cacheStatus).Inc()
	metrics.SearchResults.Observe(float64(result.Total()))
	s.log.Debug().Str("key", criteria.Key()).Int("outbound", len(entry.Outbound)).Int("return", len(entry.Return)).Msg("search")
	return result, nil
}

func (s *FlightService) cached(ctx context.Context, key string) (*cache.SearchEntry, string) {
	if s.cache == nil {
		return nil, "none"
	}
	entry, err := s.cache.GetSearch(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("search cache read failed")
		return nil, "error"
	}
	if entry == nil {
		return nil, "miss"
	}
	return entry, "hit"
}

func (s *FlightService) load(ctx context.Context, c domain.SearchCriteria) (*cache.SearchEntry, error) {
	outbound, err := s.repo.Search(ctx, repository.FlightQuery{
		From:     c.Origin,
		To:       c.Destination,
		Date:     c.DepartureDate,
		MinSeats: c.Passengers,
	})
	if err != nil {
		return nil, err
	}

	entry := &cache.SearchEntry{
		Outbound: toOffers(outbound, c.RoundTrip),
		Return:   []domain.TicketOffer{},
	}
	if c.RoundTrip && c.ReturnDate != nil {
		back, err := s.repo.Search(ctx, repository.FlightQuery{
			From:     c.Destination,
			To:       c.Origin,
			Date:     *c.ReturnDate,
			MinSeats: c.Passengers,
		})
		if err != nil {
			return nil, err
		}
		entry.Return = toOffers(back, c.RoundTrip)
	}
	return entry, nil
}

func toOffers(flights []domain.Flight, roundTrip bool) []domain.TicketOffer {
	offers := make([]domain.TicketOffer, 0, len(flights))
	for _, f := range flights {
		offers = append(offers, f.Offer(roundTrip))
	}
	return offers
}

func pageOf(offers []domain.TicketOffer, p domain.Pagination) []domain.TicketOffer {
	start := (p.Page - 1) * p.Size
	if start >= len(offers) {
		return []domain.TicketOffer{}
	}
	end := start + p.Size
	if end > len(offers) {
		end = len(offers)
	}
	return offers[start:end]
}

var _ FlightUseCase = (*FlightService)(nil)
