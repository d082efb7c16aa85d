package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

type EscrowDetails struct {
	Account      domain.EscrowAccount
	Transactions []domain.Transaction
}

// CreateEscrow opens the escrow account for an accepted contract.
func (s *Service) CreateEscrow(ctx context.Context, actor Actor, input CreateEscrowInput) (account domain.EscrowAccount, err error) {
	start := time.Now()
	defer func() {
		s.observe("create", start, err)
		s.logOutcome(ctx, "create_escrow", account.ID, err, "contract_id", input.ContractID)
	}()

	if err := requireSubject(actor); err != nil {
		return domain.EscrowAccount{}, err
	}
	input.ContractID = strings.TrimSpace(input.ContractID)
	if input.ContractID == "" {
		return domain.EscrowAccount{}, fmt.Errorf("%w: contract_id is required", domain.ErrInvalidInput)
	}
	contract, err := s.contracts.GetContract(ctx, input.ContractID)
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	if actor.Role != RoleSystem && !actor.IsAdmin() && actor.SubjectID != contract.ManagerID {
		return domain.EscrowAccount{}, fmt.Errorf("%w: only the contract manager may open escrow", domain.ErrForbidden)
	}
	if contract.Status != domain.ContractStatusAccepted {
		return domain.EscrowAccount{}, fmt.Errorf("%w: contract is %s, not accepted", domain.ErrInvalidState, contract.Status)
	}
	currency := domain.NormalizeCurrency(contract.Currency)
	if !contract.TotalAmount.IsPositive() || !contract.TotalAmount.Equal(domain.RoundMoney(contract.TotalAmount, currency)) {
		return domain.EscrowAccount{}, fmt.Errorf("%w: contract amount %s is not a valid %s amount", domain.ErrInvalidInput, contract.TotalAmount, currency)
	}
	if contract.ManagerID == "" || contract.TalentID == "" {
		return domain.EscrowAccount{}, fmt.Errorf("%w: contract parties are incomplete", domain.ErrInvalidInput)
	}
	if _, err := s.escrows.GetByContractID(ctx, contract.ContractID); err == nil {
		return domain.EscrowAccount{}, fmt.Errorf("%w: escrow already exists for contract %s", domain.ErrConflict, contract.ContractID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.EscrowAccount{}, err
	}

	fee, err := s.resolveFee(ctx, contract.ManagerID, domain.UserTypeManager, contract.TotalAmount, currency, contract.JobCategory)
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	fee, err = s.claimPromotion(ctx, fee, contract.ManagerID, contract.TotalAmount, currency)
	if err != nil {
		return domain.EscrowAccount{}, err
	}

	now := s.nowFn()
	account = domain.EscrowAccount{
		ID:                    uuid.NewString(),
		ContractID:            contract.ContractID,
		ManagerID:             contract.ManagerID,
		TalentID:              contract.TalentID,
		TotalAmount:           contract.TotalAmount,
		Currency:              currency,
		Status:                domain.EscrowStatusCreated,
		PlatformFeePercentage: fee.rate,
		PlatformFeeAmount:     fee.fee,
		CommissionSettingID:   fee.setting.ID,
		CommissionType:        fee.setting.CommissionType,
		AdminControls: domain.AdminControls{
			AutoReleaseEnabled: s.cfg.AutoReleaseDefaultEnabled,
			AutoReleaseDelay:   s.cfg.AutoReleaseDefaultDelay,
			PriorityLevel:      domain.PriorityNormal,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	audit := s.newAudit(account.ID, domain.AuditActionCreated, actor, "escrow opened for accepted contract", amountPtr(account.TotalAmount), map[string]any{
		"contract_id":           account.ContractID,
		"platform_fee_amount":   account.PlatformFeeAmount.String(),
		"platform_fee_rate":     account.PlatformFeePercentage.String(),
		"commission_setting_id": account.CommissionSettingID,
	})
	events := s.eventsFor(ctx, actor.RequestID, account.ID, now, eventItem{eventType: domain.EventEscrowCreated, data: contracts.EscrowCreatedPayload{
		EscrowID:              account.ID,
		ContractID:            account.ContractID,
		ManagerID:             account.ManagerID,
		TalentID:              account.TalentID,
		TotalAmount:           account.TotalAmount,
		Currency:              account.Currency,
		PlatformFeePercentage: account.PlatformFeePercentage,
		PlatformFeeAmount:     account.PlatformFeeAmount,
		CommissionSettingID:   account.CommissionSettingID,
		CreatedAt:             now.UTC().Format(time.RFC3339),
	}})
	if err := s.escrows.Create(ctx, account, ports.LedgerChange{Audit: []domain.AuditEntry{audit}, Outbox: events}); err != nil {
		return domain.EscrowAccount{}, err
	}
	return account, nil
}

func (s *Service) loadByContract(ctx context.Context, contractID string) (domain.EscrowAccount, error) {
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return domain.EscrowAccount{}, fmt.Errorf("%w: contract_id is required", domain.ErrInvalidInput)
	}
	return s.escrows.GetByContractID(ctx, contractID)
}

func (s *Service) GetEscrowByContract(ctx context.Context, actor Actor, contractID string) (EscrowDetails, error) {
	if err := requireSubject(actor); err != nil {
		return EscrowDetails{}, err
	}
	account, err := s.loadByContract(ctx, contractID)
	if err != nil {
		return EscrowDetails{}, err
	}
	if err := requireReader(actor, account); err != nil {
		return EscrowDetails{}, err
	}
	txs, err := s.transactions.ListByEscrowID(ctx, account.ID)
	if err != nil {
		return EscrowDetails{}, err
	}
	return EscrowDetails{Account: account, Transactions: txs}, nil
}

func (s *Service) GetEscrow(ctx context.Context, actor Actor, escrowID string) (domain.EscrowAccount, error) {
	if err := requireSubject(actor); err != nil {
		return domain.EscrowAccount{}, err
	}
	account, err := s.escrows.GetByID(ctx, strings.TrimSpace(escrowID))
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	if err := requireReader(actor, account); err != nil {
		return domain.EscrowAccount{}, err
	}
	return account, nil
}

func (s *Service) ListTransactions(ctx context.Context, actor Actor, contractID string) ([]domain.Transaction, error) {
	details, err := s.GetEscrowByContract(ctx, actor, contractID)
	if err != nil {
		return nil, err
	}
	return details.Transactions, nil
}

// ListEscrows pages over accounts. Non-admin callers only see accounts they are party to.
func (s *Service) ListEscrows(ctx context.Context, actor Actor, input ListEscrowsInput) (EscrowPage, error) {
	if err := requireSubject(actor); err != nil {
		return EscrowPage{}, err
	}
	if input.Status != "" && !input.Status.Valid() {
		return EscrowPage{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, input.Status)
	}
	if input.Page <= 0 {
		input.Page = 1
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}
	if input.Limit > 100 {
		input.Limit = 100
	}
	filter := ports.EscrowFilter{Status: input.Status, Limit: input.Limit, Offset: (input.Page - 1) * input.Limit}
	if !actor.IsAdmin() {
		filter.PartyUserID = actor.SubjectID
	}
	items, total, err := s.escrows.List(ctx, filter)
	if err != nil {
		return EscrowPage{}, err
	}
	return EscrowPage{Items: items, Total: total, Page: input.Page, Limit: input.Limit}, nil
}

func (s *Service) ListAuditTrail(ctx context.Context, actor Actor, escrowID string, limit, offset int) ([]domain.AuditEntry, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(escrowID) == "" {
		return nil, fmt.Errorf("%w: escrow_id is required", domain.ErrInvalidInput)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.audit.ListByEscrowID(ctx, escrowID, limit, offset)
}
