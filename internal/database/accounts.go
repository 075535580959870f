package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"feedsync/internal/domain"

	"github.com/jmoiron/sqlx"
)

const currentAccountSettingKey = "current_account_id"

type dbAccount struct {
	ID                   int64     `db:"id"`
	Kind                 string    `db:"kind"`
	Name                 string    `db:"name"`
	ServerURL            string    `db:"server_url"`
	Username             string    `db:"username"`
	Secret               string    `db:"secret"`
	SyncIntervalMinutes  int64     `db:"sync_interval_minutes"`
	MaxPastDays          int64     `db:"max_past_days"`
	SyncOnStart          bool      `db:"sync_on_start"`
	SyncOnlyOnWiFi       bool      `db:"sync_only_on_wifi"`
	SyncOnlyWhenCharging bool      `db:"sync_only_when_charging"`
	DefaultScreen        string    `db:"default_screen"`
	CreatedAt            time.Time `db:"created_at"`
}

func (a dbAccount) toDomain() domain.Account {
	return domain.Account{
		ID:                   a.ID,
		Kind:                 domain.AccountKind(a.Kind),
		Name:                 a.Name,
		ServerURL:            a.ServerURL,
		Username:             a.Username,
		Secret:               a.Secret,
		SyncIntervalMinutes:  a.SyncIntervalMinutes,
		MaxPastDays:          a.MaxPastDays,
		SyncOnStart:          a.SyncOnStart,
		SyncOnlyOnWiFi:       a.SyncOnlyOnWiFi,
		SyncOnlyWhenCharging: a.SyncOnlyWhenCharging,
		DefaultScreen:        a.DefaultScreen,
		CreatedAt:            a.CreatedAt,
	}
}

const accountColumns = `id, kind, name, server_url, username, secret, sync_interval_minutes,
	max_past_days, sync_on_start, sync_only_on_wifi, sync_only_when_charging, default_screen, created_at`

func (d *Database) CreateAccount(ctx context.Context, account domain.Account) (int64, error) {
	name := strings.TrimSpace(account.Name)
	if name == "" {
		return 0, errors.New("account name is empty")
	}

	if account.DefaultScreen == "" {
		account.DefaultScreen = "feeds"
	}

	query := `insert into accounts (kind, name, server_url, username, secret, sync_interval_minutes,
	max_past_days, sync_on_start, sync_only_on_wifi, sync_only_when_charging, default_screen, created_at)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		string(account.Kind),
		name,
		strings.TrimSpace(account.ServerURL),
		strings.TrimSpace(account.Username),
		account.Secret,
		account.SyncIntervalMinutes,
		account.MaxPastDays,
		account.SyncOnStart,
		account.SyncOnlyOnWiFi,
		account.SyncOnlyWhenCharging,
		account.DefaultScreen,
		d.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}

	return res.LastInsertId()
}

func (d *Database) UpdateAccount(ctx context.Context, account domain.Account) error {
	query := `update accounts
	set name = ?, server_url = ?, username = ?, sync_interval_minutes = ?, max_past_days = ?,
	sync_on_start = ?, sync_only_on_wifi = ?, sync_only_when_charging = ?, default_screen = ?
	where id = ?`

	res, err := d.db.ExecContext(ctx, query,
		strings.TrimSpace(account.Name),
		strings.TrimSpace(account.ServerURL),
		strings.TrimSpace(account.Username),
		account.SyncIntervalMinutes,
		account.MaxPastDays,
		account.SyncOnStart,
		account.SyncOnlyOnWiFi,
		account.SyncOnlyWhenCharging,
		account.DefaultScreen,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	return requireAffected(res, domain.ErrNoAccount)
}

func (d *Database) UpdateAccountSecret(ctx context.Context, accountID int64, secret string) error {
	res, err := d.db.ExecContext(ctx, "update accounts set secret = ? where id = ?", secret, accountID)
	if err != nil {
		return fmt.Errorf("update account secret: %w", err)
	}

	return requireAffected(res, domain.ErrNoAccount)
}

func (d *Database) GetAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	var a dbAccount

	err := d.db.GetContext(ctx, &a, "select "+accountColumns+" from accounts where id = ?", accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("%w: id %d", domain.ErrNoAccount, accountID)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}

	return a.toDomain(), nil
}

func (d *Database) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var rows []dbAccount

	if err := d.db.SelectContext(ctx, &rows, "select "+accountColumns+" from accounts order by id"); err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}

	accounts := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toDomain())
	}

	return accounts, nil
}

func (d *Database) DeleteAccount(ctx context.Context, accountID int64) error {
	return d.inTx(ctx, "DeleteAccount", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "delete from accounts where id = ?", accountID); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}

		query := "delete from settings where key = ? and value = ?"
		if _, err := tx.ExecContext(ctx, query, currentAccountSettingKey, strconv.FormatInt(accountID, 10)); err != nil {
			return fmt.Errorf("clear current account: %w", err)
		}

		return nil
	})
}

func (d *Database) CurrentAccountID(ctx context.Context) (int64, error) {
	value, err := d.GetSetting(ctx, currentAccountSettingKey)
	if err != nil {
		return 0, err
	}

	if value == "" {
		return 0, domain.ErrNoAccount
	}

	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse current account ID %q: %w", value, err)
	}

	return id, nil
}

func (d *Database) SetCurrentAccountID(ctx context.Context, accountID int64) error {
	return d.SetSetting(ctx, currentAccountSettingKey, strconv.FormatInt(accountID, 10))
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}
