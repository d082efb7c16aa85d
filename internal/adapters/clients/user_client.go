package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// ProfileClient looks up user attributes in the profile service.
type ProfileClient struct {
	http *jsonClient
}

func NewProfileClient(baseURL string, opts ...Option) (*ProfileClient, error) {
	c, err := newJSONClient(baseURL, "profile-service", opts...)
	if err != nil {
		return nil, err
	}
	return &ProfileClient{http: c}, nil
}

type profileResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"display_name"`
	Rating    float64   `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
	Premium   bool      `json:"is_premium"`
}

func (c *ProfileClient) GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	var out dataEnvelope[profileResponse]
	if err := c.http.do(ctx, http.MethodGet, "/internal/v1/profiles/"+url.PathEscape(userID), nil, &out); err != nil {
		return domain.UserProfile{}, err
	}
	p := out.Data
	if p.UserID == "" {
		p.UserID = userID
	}
	return domain.UserProfile{
		UserID:           p.UserID,
		Email:            p.Email,
		Name:             p.Name,
		Rating:           p.Rating,
		AccountCreatedAt: p.CreatedAt,
		Premium:          p.Premium,
	}, nil
}

var _ ports.UserDirectory = (*ProfileClient)(nil)

type StaticUsers struct {
	mu       sync.RWMutex
	profiles map[string]domain.UserProfile
}

func NewStaticUsers(profiles ...domain.UserProfile) *StaticUsers {
	s := &StaticUsers{profiles: make(map[string]domain.UserProfile)}
	for _, p := range profiles {
		s.profiles[p.UserID] = p
	}
	return s
}

func (s *StaticUsers) Put(p domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func (s *StaticUsers) GetUserProfile(_ context.Context, userID string) (domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.UserProfile{}, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
	}
	return p, nil
}

var _ ports.UserDirectory = (*StaticUsers)(nil)
