package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// ContractClient reads and updates contracts through the contract service's internal API.
type ContractClient struct {
	http *jsonClient
}

func NewContractClient(baseURL string, opts ...Option) (*ContractClient, error) {
	c, err := newJSONClient(baseURL, "contract-service", opts...)
	if err != nil {
		return nil, err
	}
	return &ContractClient{http: c}, nil
}

type contractResponse struct {
	ContractID  string          `json:"contract_id"`
	ManagerID   string          `json:"manager_id"`
	TalentID    string          `json:"talent_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Title       string          `json:"title"`
	Status      string          `json:"status"`
	JobCategory string          `json:"job_category"`
}

// the contract service wraps payloads in {"data": ...} like the other mesh services
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

func (c *ContractClient) GetContract(ctx context.Context, contractID string) (domain.Contract, error) {
	var out dataEnvelope[contractResponse]
	if err := c.http.do(ctx, http.MethodGet, "/internal/v1/contracts/"+url.PathEscape(contractID), nil, &out); err != nil {
		return domain.Contract{}, err
	}
	r := out.Data
	if strings.TrimSpace(r.ContractID) == "" {
		return domain.Contract{}, fmt.Errorf("%w: contract %s", domain.ErrNotFound, contractID)
	}
	return domain.Contract{
		ContractID:  r.ContractID,
		ManagerID:   r.ManagerID,
		TalentID:    r.TalentID,
		TotalAmount: r.TotalAmount,
		Currency:    r.Currency,
		Title:       r.Title,
		Status:      r.Status,
		JobCategory: r.JobCategory,
	}, nil
}

func (c *ContractClient) UpdateStatus(ctx context.Context, contractID, status string) error {
	body := map[string]string{"status": status}
	return c.http.do(ctx, http.MethodPut, "/internal/v1/contracts/"+url.PathEscape(contractID)+"/status", body, nil)
}

func (c *ContractClient) MarkMilestonePaid(ctx context.Context, contractID, milestoneID string) error {
	path := "/internal/v1/contracts/" + url.PathEscape(contractID) + "/milestones/" + url.PathEscape(milestoneID) + "/paid"
	return c.http.do(ctx, http.MethodPut, path, nil, nil)
}

var _ ports.ContractService = (*ContractClient)(nil)

// StaticContracts serves contracts from memory. Used for local runs and tests.
type StaticContracts struct {
	mu         sync.Mutex
	contracts  map[string]domain.Contract
	statuses   map[string][]string
	milestones map[string][]string
}

func NewStaticContracts(contracts ...domain.Contract) *StaticContracts {
	s := &StaticContracts{
		contracts:  make(map[string]domain.Contract),
		statuses:   make(map[string][]string),
		milestones: make(map[string][]string),
	}
	for _, c := range contracts {
		s.Put(c)
	}
	return s
}

func (s *StaticContracts) Put(c domain.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.ContractID] = c
}

func (s *StaticContracts) GetContract(_ context.Context, contractID string) (domain.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[contractID]
	if !ok {
		return domain.Contract{}, fmt.Errorf("%w: contract %s", domain.ErrNotFound, contractID)
	}
	return c, nil
}

func (s *StaticContracts) UpdateStatus(_ context.Context, contractID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: contract %s", domain.ErrNotFound, contractID)
	}
	c.Status = status
	s.contracts[contractID] = c
	s.statuses[contractID] = append(s.statuses[contractID], status)
	return nil
}

func (s *StaticContracts) MarkMilestonePaid(_ context.Context, contractID, milestoneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[contractID]; !ok {
		return fmt.Errorf("%w: contract %s", domain.ErrNotFound, contractID)
	}
	s.milestones[contractID] = append(s.milestones[contractID], milestoneID)
	return nil
}

// StatusHistory returns the statuses set on a contract, oldest first.
func (s *StaticContracts) StatusHistory(contractID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses[contractID]...)
}

func (s *StaticContracts) PaidMilestones(contractID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.milestones[contractID]...)
}

var _ ports.ContractService = (*StaticContracts)(nil)
