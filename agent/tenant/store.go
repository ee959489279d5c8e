package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

// TenantIntegration is one enabled (or disabled) backend integration
// for a tenant, credentials included.
type TenantIntegration struct {
	bun.BaseModel `bun:"table:tenant_integrations,alias:ti"`

	ID             int64                `bun:"id,pk,autoincrement"`
	TenantID       string               `bun:"tenant_id,notnull"`
	IntegrationKey string               `bun:"integration_key,notnull"`
	Enabled        bool                 `bun:"enabled,notnull,default:true"`
	Credentials    contractx.Credential `bun:"credentials,type:jsonb"`
	UpdatedAt      time.Time            `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

// PostgresStore backs ConfigStore and CredentialStore with the
// tenant_integrations table.
type PostgresStore struct {
	db      *bun.DB
	timeout time.Duration
}

var (
	_ contractx.ConfigStore     = (*PostgresStore)(nil)
	_ contractx.CredentialStore = (*PostgresStore)(nil)
)

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("tenant store dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetEnabledIntegrations(ctx context.Context, tenantID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var keys []string
	err := s.db.NewSelect().
		Model((*TenantIntegration)(nil)).
		Column("integration_key").
		Where("tenant_id = ?", tenantID).
		Where("enabled").
		Order("id ASC").
		Scan(ctx, &keys)
	if err != nil {
		return nil, fmt.Errorf("load enabled integrations for tenant=%s: %w", tenantID, err)
	}
	return keys, nil
}

func (s *PostgresStore) GetCredentials(ctx context.Context, tenantID, integrationKey string) (contractx.Credential, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	integration := new(TenantIntegration)
	err := s.db.NewSelect().
		Model(integration).
		Where("tenant_id = ?", tenantID).
		Where("integration_key = ?", integrationKey).
		Where("enabled").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load credentials for tenant=%s integration=%s: %w", tenantID, integrationKey, err)
	}
	if len(integration.Credentials) == 0 {
		return nil, false, nil
	}
	return integration.Credentials, true, nil
}

// StaticStore serves a fixed integration map; used in development mode
// and tests where no database is wired.
type StaticStore struct {
	integrations map[string][]TenantIntegration
}

var (
	_ contractx.ConfigStore     = (*StaticStore)(nil)
	_ contractx.CredentialStore = (*StaticStore)(nil)
)

func NewStaticStore(integrations map[string][]TenantIntegration) *StaticStore {
	if integrations == nil {
		integrations = map[string][]TenantIntegration{}
	}
	return &StaticStore{integrations: integrations}
}

func (s *StaticStore) GetEnabledIntegrations(_ context.Context, tenantID string) ([]string, error) {
	var keys []string
	for _, ti := range s.integrations[tenantID] {
		if ti.Enabled {
			keys = append(keys, ti.IntegrationKey)
		}
	}
	return keys, nil
}

func (s *StaticStore) GetCredentials(_ context.Context, tenantID, integrationKey string) (contractx.Credential, bool, error) {
	for _, ti := range s.integrations[tenantID] {
		if ti.Enabled && ti.IntegrationKey == integrationKey && len(ti.Credentials) > 0 {
			return ti.Credentials, true, nil
		}
	}
	return nil, false, nil
}
