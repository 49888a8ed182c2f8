package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-tracker/billing"
)

var _ billing.ClientDirectory = (*Store)(nil)

// =============================================================================
// RECORDS
// =============================================================================

// Provider is a plan provider with aggregates over its active clients.
type Provider struct {
	ID          billing.ProviderID
	Name        string
	ClientCount int
	TotalAssets decimal.Decimal
	ValidFrom   time.Time
}

// Client is a retirement-plan client.
type Client struct {
	ID            billing.ClientID
	ProviderID    *billing.ProviderID
	ProviderName  string
	DisplayName   string
	FullName      string
	IMASignedDate *billing.Date
	Participants  *int
	ValidFrom     time.Time
}

// Contract is a client's fee agreement. Exactly one contract per client is
// active (ValidTo == nil).
type Contract struct {
	ID             billing.ContractID
	ClientID       billing.ClientID
	ProviderID     *billing.ProviderID
	ContractNumber string
	FeeType        billing.FeeType
	PercentRate    decimal.NullDecimal
	FlatRate       decimal.NullDecimal
	Schedule       billing.Schedule
	NumPeople      *int
	ValidFrom      time.Time
	ValidTo        *time.Time
}

// Fee returns the contract's fee spec, taking the rate that matches the fee
// type.
func (c Contract) Fee() billing.FeeSpec {
	spec := billing.FeeSpec{Type: c.FeeType}
	switch c.FeeType {
	case billing.FeePercentage:
		spec.Rate = c.PercentRate
	case billing.FeeFlat:
		spec.Rate = c.FlatRate
	}
	return spec
}

// ClientMetrics is derived per-client payment data.
type ClientMetrics struct {
	ClientID           billing.ClientID
	LastPaymentDate    *billing.Date
	LastPaymentAmount  decimal.NullDecimal
	LastPaid           *billing.Period
	LastRecordedAssets decimal.NullDecimal
	TotalYTDPayments   decimal.Decimal
}

// ClientSummary joins a client with its active contract and metrics.
type ClientSummary struct {
	Client   Client
	Contract *Contract
	Metrics  ClientMetrics
}

// =============================================================================
// PROVIDERS
// =============================================================================

// CreateProvider inserts a provider. Names are unique.
func (s *Store) CreateProvider(ctx context.Context, name string) (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.stamp()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO providers (provider_name, valid_from) VALUES (?, ?)", name, stamp)
	if isUniqueConstraintError(err) {
		return Provider{}, fmt.Errorf("%w: provider %q already exists", billing.ErrValidation, name)
	}
	if err != nil {
		return Provider{}, fmt.Errorf("failed to create provider: %w", err)
	}
	id, _ := res.LastInsertId()
	return Provider{ID: billing.ProviderID(id), Name: name, ValidFrom: parseStamp(stamp)}, nil
}

// GetProvider returns nil, nil when the provider does not exist.
func (s *Store) GetProvider(ctx context.Context, id billing.ProviderID) (*Provider, error) {
	providers, err := s.listProviders(ctx, "AND p.provider_id = ?", id)
	if err != nil || len(providers) == 0 {
		return nil, err
	}
	return &providers[0], nil
}

// ListProviders returns active providers with client counts and the sum of
// their clients' last recorded assets.
func (s *Store) ListProviders(ctx context.Context) ([]Provider, error) {
	return s.listProviders(ctx, "")
}

func (s *Store) listProviders(ctx context.Context, filter string, args ...any) ([]Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT p.provider_id, p.provider_name, p.valid_from, c.client_id, m.last_recorded_assets
		FROM providers p
		LEFT JOIN clients c ON c.provider_id = p.provider_id AND c.valid_to IS NULL
		LEFT JOIN client_metrics m ON m.client_id = c.client_id
		WHERE p.valid_to IS NULL ` + filter + `
		ORDER BY p.provider_name, c.client_id
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	providers := []Provider{}
	index := map[billing.ProviderID]int{}
	for rows.Next() {
		var (
			p         Provider
			validFrom string
			clientID  sql.NullInt64
			assets    decimal.NullDecimal
		)
		if err := rows.Scan(&p.ID, &p.Name, &validFrom, &clientID, &assets); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		i, ok := index[p.ID]
		if !ok {
			p.ValidFrom = parseStamp(validFrom)
			providers = append(providers, p)
			i = len(providers) - 1
			index[p.ID] = i
		}
		if clientID.Valid {
			providers[i].ClientCount++
		}
		if assets.Valid {
			providers[i].TotalAssets = providers[i].TotalAssets.Add(assets.Decimal)
		}
	}
	return providers, rows.Err()
}

// =============================================================================
// CLIENTS
// =============================================================================

// CreateClient inserts a client. ID and ValidFrom are assigned.
func (s *Store) CreateClient(ctx context.Context, c Client) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var signed any
	if c.IMASignedDate != nil {
		signed = c.IMASignedDate.String()
	}
	stamp := s.stamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (provider_id, display_name, full_name, ima_signed_date, participants, valid_from)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ProviderID, c.DisplayName, nullString(c.FullName), signed, c.Participants, stamp,
	)
	if err != nil {
		return Client{}, fmt.Errorf("failed to create client: %w", err)
	}
	id, _ := res.LastInsertId()
	c.ID = billing.ClientID(id)
	c.ValidFrom = parseStamp(stamp)
	return c, nil
}

// GetClient returns nil, nil when the client does not exist.
func (s *Store) GetClient(ctx context.Context, id billing.ClientID) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients, err := queryClients(ctx, s.db, "AND c.client_id = ?", id)
	if err != nil || len(clients) == 0 {
		return nil, err
	}
	return &clients[0], nil
}

// ListClients returns active clients ordered by display name.
func (s *Store) ListClients(ctx context.Context) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryClients(ctx, s.db, "")
}

// ListClientsByProvider returns the provider's active clients.
func (s *Store) ListClientsByProvider(ctx context.Context, providerID billing.ProviderID) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryClients(ctx, s.db, "AND c.provider_id = ?", providerID)
}

func queryClients(ctx context.Context, q querier, filter string, args ...any) ([]Client, error) {
	query := `
		SELECT c.client_id, c.provider_id, COALESCE(p.provider_name, ''), c.display_name,
		       COALESCE(c.full_name, ''), c.ima_signed_date, c.participants, c.valid_from
		FROM clients c
		LEFT JOIN providers p ON p.provider_id = c.provider_id
		WHERE c.valid_to IS NULL ` + filter + `
		ORDER BY c.display_name, c.client_id
	`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	clients := []Client{}
	for rows.Next() {
		var (
			c         Client
			signed    sql.NullString
			validFrom string
		)
		if err := rows.Scan(&c.ID, &c.ProviderID, &c.ProviderName, &c.DisplayName,
			&c.FullName, &signed, &c.Participants, &validFrom); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		if signed.Valid {
			if d, err := billing.ParseDate(signed.String); err == nil {
				c.IMASignedDate = &d
			}
		}
		c.ValidFrom = parseStamp(validFrom)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func clientExists(ctx context.Context, q querier, id billing.ClientID) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM clients WHERE client_id = ? AND valid_to IS NULL", id).Scan(&n)
	return n > 0, err
}

// =============================================================================
// CONTRACTS
// =============================================================================

// CreateContract closes the client's active contract, if any, and inserts c
// as the new active one. Client metrics are recomputed for the new schedule.
func (s *Store) CreateContract(ctx context.Context, c Contract) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.stamp()
	err := s.inTx(ctx, func(q querier) error {
		ok, err := clientExists(ctx, q, c.ClientID)
		if err != nil {
			return err
		}
		if !ok {
			return &billing.LookupError{What: "client", ClientID: c.ClientID}
		}

		if _, err := q.ExecContext(ctx,
			"UPDATE contracts SET valid_to = ? WHERE client_id = ? AND valid_to IS NULL",
			stamp, c.ClientID); err != nil {
			return fmt.Errorf("failed to close contract: %w", err)
		}

		res, err := q.ExecContext(ctx, `
			INSERT INTO contracts (client_id, provider_id, contract_number, fee_type, percent_rate,
			                       flat_rate, payment_schedule, num_people, valid_from)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ClientID, c.ProviderID, nullString(c.ContractNumber), string(c.FeeType),
			c.PercentRate, c.FlatRate, string(c.Schedule), c.NumPeople, stamp,
		)
		if err != nil {
			return fmt.Errorf("failed to create contract: %w", err)
		}
		id, _ := res.LastInsertId()
		c.ID = billing.ContractID(id)

		return s.recomputeMetrics(ctx, q, c.ClientID)
	})
	if err != nil {
		return Contract{}, err
	}
	c.ValidFrom = parseStamp(stamp)
	c.ValidTo = nil
	return c, nil
}

// ActiveContractFor returns nil, nil when the client has no active contract.
func (s *Store) ActiveContractFor(ctx context.Context, clientID billing.ClientID) (*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeContract(ctx, s.db, clientID)
}

const contractColumns = `contract_id, client_id, provider_id, COALESCE(contract_number, ''), fee_type,
	percent_rate, flat_rate, payment_schedule, num_people, valid_from, valid_to`

func activeContract(ctx context.Context, q querier, clientID billing.ClientID) (*Contract, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE client_id = ? AND valid_to IS NULL", clientID)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContract(row scanner) (Contract, error) {
	var (
		c                 Contract
		feeType, schedule string
		validFrom         string
		validTo           sql.NullString
	)
	err := row.Scan(&c.ID, &c.ClientID, &c.ProviderID, &c.ContractNumber, &feeType,
		&c.PercentRate, &c.FlatRate, &schedule, &c.NumPeople, &validFrom, &validTo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan contract: %w", err)
	}
	c.FeeType = billing.FeeType(feeType)
	c.Schedule = billing.Schedule(schedule)
	c.ValidFrom = parseStamp(validFrom)
	c.ValidTo = parseNullStamp(validTo)
	return c, nil
}

// =============================================================================
// CLIENT DIRECTORY (billing.ClientDirectory interface)
// =============================================================================

// BillingProfile returns the schedule and fee structure of the client's
// active contract.
func (s *Store) BillingProfile(ctx context.Context, clientID billing.ClientID) (billing.BillingProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ok, err := clientExists(ctx, s.db, clientID)
	if err != nil {
		return billing.BillingProfile{}, fmt.Errorf("failed to look up client: %w", err)
	}
	if !ok {
		return billing.BillingProfile{}, &billing.LookupError{What: "client", ClientID: clientID}
	}
	c, err := activeContract(ctx, s.db, clientID)
	if err != nil {
		return billing.BillingProfile{}, err
	}
	if c == nil {
		return billing.BillingProfile{}, &billing.LookupError{What: "active contract", ClientID: clientID}
	}
	m, err := metrics(ctx, s.db, clientID, c.Schedule)
	if err != nil {
		return billing.BillingProfile{}, err
	}
	return billing.BillingProfile{
		ClientID:           clientID,
		Schedule:           c.Schedule,
		Fee:                c.Fee(),
		LastRecordedAssets: m.LastRecordedAssets,
	}, nil
}

func (s *Store) ActiveContract(ctx context.Context, clientID billing.ClientID) (billing.ContractID, bool, error) {
	c, err := s.ActiveContractFor(ctx, clientID)
	if err != nil || c == nil {
		return 0, false, err
	}
	return c.ID, true, nil
}

// LastPaidPeriod returns the last paid period under the client's current
// schedule, or nil when the client has never paid or has no contract.
func (s *Store) LastPaidPeriod(ctx context.Context, clientID billing.ClientID) (*billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := activeContract(ctx, s.db, clientID)
	if err != nil || c == nil {
		return nil, err
	}
	m, err := metrics(ctx, s.db, clientID, c.Schedule)
	if err != nil {
		return nil, err
	}
	return m.LastPaid, nil
}

// =============================================================================
// CLIENT METRICS
// =============================================================================

// Metrics returns the derived metrics of a client. A client without
// payments has zero metrics.
func (s *Store) Metrics(ctx context.Context, clientID billing.ClientID) (ClientMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := activeContract(ctx, s.db, clientID)
	if err != nil {
		return ClientMetrics{}, err
	}
	var schedule billing.Schedule
	if c != nil {
		schedule = c.Schedule
	}
	return metrics(ctx, s.db, clientID, schedule)
}

func metrics(ctx context.Context, q querier, clientID billing.ClientID, schedule billing.Schedule) (ClientMetrics, error) {
	m := ClientMetrics{ClientID: clientID}
	var (
		lastDate             sql.NullString
		month, monthYear     *int
		quarter, quarterYear *int
	)
	err := q.QueryRowContext(ctx, `
		SELECT last_payment_date, last_payment_amount, last_payment_month, last_payment_month_year,
		       last_payment_quarter, last_payment_quarter_year, last_recorded_assets, total_ytd_payments
		FROM client_metrics WHERE client_id = ?`, clientID,
	).Scan(&lastDate, &m.LastPaymentAmount, &month, &monthYear, &quarter, &quarterYear,
		&m.LastRecordedAssets, &m.TotalYTDPayments)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("failed to read client metrics: %w", err)
	}

	if lastDate.Valid {
		if d, err := billing.ParseDate(lastDate.String); err == nil {
			m.LastPaymentDate = &d
		}
	}
	if schedule.Valid() {
		m.LastPaid, err = billing.DecodeLastPaid(schedule, month, monthYear, quarter, quarterYear)
		if err != nil {
			return m, fmt.Errorf("client %d metrics: %w", clientID, err)
		}
	}
	return m, nil
}

// recomputeMetrics rebuilds client_metrics from the client's active
// payments. The caller holds s.mu and runs inside a transaction.
func (s *Store) recomputeMetrics(ctx context.Context, q querier, clientID billing.ClientID) error {
	payments, err := queryPayments(ctx, q, "p.client_id = ?", []any{clientID}, -1, 0)
	if err != nil {
		return err
	}
	contract, err := activeContract(ctx, q, clientID)
	if err != nil {
		return err
	}

	var (
		lastDate, lastAmount, lastAssets any
		lastPaid                         *billing.Period
	)
	ytd := decimal.Zero
	year := s.now().UTC().Year()
	// payments are newest first
	for i, p := range payments {
		rec := p.Record
		if i == 0 {
			lastDate = rec.ReceivedDate.String()
			lastAmount = rec.ActualFee.String()
		}
		if lastAssets == nil && rec.TotalAssets.Valid {
			lastAssets = rec.TotalAssets.Decimal.String()
		}
		if rec.ReceivedDate.Year() == year {
			ytd = ytd.Add(rec.ActualFee)
		}
		if contract != nil && rec.Schedule == contract.Schedule {
			if lastPaid == nil || rec.Span.End.After(*lastPaid) {
				end := rec.Span.End
				lastPaid = &end
			}
		}
	}

	var month, monthYear, quarter, quarterYear *int
	if lastPaid != nil {
		index, yr := lastPaid.Index, lastPaid.Year
		if lastPaid.Schedule == billing.ScheduleMonthly {
			month, monthYear = &index, &yr
		} else {
			quarter, quarterYear = &index, &yr
		}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO client_metrics (client_id, last_payment_date, last_payment_amount,
			last_payment_month, last_payment_month_year, last_payment_quarter, last_payment_quarter_year,
			last_recorded_assets, total_ytd_payments, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			last_payment_date = excluded.last_payment_date,
			last_payment_amount = excluded.last_payment_amount,
			last_payment_month = excluded.last_payment_month,
			last_payment_month_year = excluded.last_payment_month_year,
			last_payment_quarter = excluded.last_payment_quarter,
			last_payment_quarter_year = excluded.last_payment_quarter_year,
			last_recorded_assets = excluded.last_recorded_assets,
			total_ytd_payments = excluded.total_ytd_payments,
			updated_at = excluded.updated_at`,
		clientID, lastDate, lastAmount, month, monthYear, quarter, quarterYear,
		lastAssets, ytd.String(), s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to update client metrics: %w", err)
	}
	return nil
}

// =============================================================================
// SUMMARIES
// =============================================================================

// ClientSummaries returns every active client with its active contract and
// metrics. Used for client listings and the status sweep.
func (s *Store) ClientSummaries(ctx context.Context) ([]ClientSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients, err := queryClients(ctx, s.db, "")
	if err != nil {
		return nil, err
	}

	summaries := make([]ClientSummary, 0, len(clients))
	for _, c := range clients {
		summary, err := summarize(ctx, s.db, c)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ClientSummary returns nil, nil when the client does not exist.
func (s *Store) ClientSummary(ctx context.Context, id billing.ClientID) (*ClientSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients, err := queryClients(ctx, s.db, "AND c.client_id = ?", id)
	if err != nil || len(clients) == 0 {
		return nil, err
	}
	summary, err := summarize(ctx, s.db, clients[0])
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func summarize(ctx context.Context, q querier, c Client) (ClientSummary, error) {
	contract, err := activeContract(ctx, q, c.ID)
	if err != nil {
		return ClientSummary{}, err
	}
	var schedule billing.Schedule
	if contract != nil {
		schedule = contract.Schedule
	}
	m, err := metrics(ctx, q, c.ID, schedule)
	if err != nil {
		return ClientSummary{}, err
	}
	return ClientSummary{Client: c, Contract: contract, Metrics: m}, nil
}
