package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fatura/internal/core"

	_ "modernc.org/sqlite"
)

// Fixed-width so stored timestamps sort lexicographically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists the engine state in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Immediate transactions take the write lock up front so two writers
	// queue on busy_timeout instead of failing on lock upgrade.
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite store ready", "path", dbPath, "schema_version", version)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqliteTx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return fn(&sqliteTx{q: s.db})
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *sqliteTx) GetCard(ctx context.Context, id string) (core.Card, error) {
	row := t.q.QueryRowContext(ctx, `SELECT id, name, closing_day, due_day, credit_limit FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Card{}, core.NewNotFoundError("card", id)
	}
	if err != nil {
		return core.Card{}, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

func (t *sqliteTx) SaveCard(ctx context.Context, c core.Card) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO cards (id, name, closing_day, due_day, credit_limit) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			closing_day = excluded.closing_day,
			due_day = excluded.due_day,
			credit_limit = excluded.credit_limit`,
		c.ID, c.Name, c.ClosingDay, c.DueDay, c.CreditLimit.StringFixed(core.MoneyScale))
	if err != nil {
		return fmt.Errorf("save card: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListCards(ctx context.Context) ([]core.Card, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT id, name, closing_day, due_day, credit_limit FROM cards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var out []core.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCard(s scanner) (core.Card, error) {
	var (
		c     core.Card
		limit string
	)
	if err := s.Scan(&c.ID, &c.Name, &c.ClosingDay, &c.DueDay, &limit); err != nil {
		return core.Card{}, err
	}
	d, err := decimal.NewFromString(limit)
	if err != nil {
		return core.Card{}, fmt.Errorf("parse credit limit: %w", err)
	}
	c.CreditLimit = d
	return c, nil
}

const invoiceColumns = `id, card_id, reference_month, period_start, period_end, closing_date, due_date,
	total_value, paid_value, status, created_at, updated_at`

func (t *sqliteTx) GetInvoice(ctx context.Context, id string) (core.Invoice, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Invoice{}, core.NewNotFoundError("invoice", id)
	}
	if err != nil {
		return core.Invoice{}, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

func (t *sqliteTx) FindInvoice(ctx context.Context, cardID string, ref core.Month) (core.Invoice, bool, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE card_id = ? AND reference_month = ?`,
		cardID, ref.String())
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Invoice{}, false, nil
	}
	if err != nil {
		return core.Invoice{}, false, fmt.Errorf("find invoice: %w", err)
	}
	return inv, true, nil
}

func (t *sqliteTx) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (card_id, reference_month) DO NOTHING`,
		inv.ID, inv.CardID, inv.ReferenceMonth.String(),
		inv.PeriodStart.String(), inv.PeriodEnd.String(), inv.ClosingDate.String(), inv.DueDate.String(),
		formatMoney(inv.TotalValue), formatMoney(inv.PaidValue), string(inv.Status),
		formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt))
	if err != nil {
		return core.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	stored, ok, err := t.FindInvoice(ctx, inv.CardID, inv.ReferenceMonth)
	if err != nil {
		return core.Invoice{}, err
	}
	if !ok {
		return core.Invoice{}, core.NewInvariantViolation("invoice %s/%s missing after insert", inv.CardID, inv.ReferenceMonth)
	}
	return stored, nil
}

func (t *sqliteTx) UpdateInvoice(ctx context.Context, inv core.Invoice) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE invoices SET period_start = ?, period_end = ?, closing_date = ?, due_date = ?,
			total_value = ?, paid_value = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		inv.PeriodStart.String(), inv.PeriodEnd.String(), inv.ClosingDate.String(), inv.DueDate.String(),
		formatMoney(inv.TotalValue), formatMoney(inv.PaidValue), string(inv.Status), formatTime(inv.UpdatedAt),
		inv.ID)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return expectOneRow(res, "invoice", inv.ID)
}

func (t *sqliteTx) ListInvoices(ctx context.Context, f InvoiceFilter) ([]core.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if f.CardID != "" {
		where = append(where, "card_id = ?")
		args = append(args, f.CardID)
	}
	if !f.From.IsZero() {
		where = append(where, "reference_month >= ?")
		args = append(args, f.From.String())
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY card_id, reference_month"

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []core.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanInvoice(s scanner) (core.Invoice, error) {
	var (
		inv                                   core.Invoice
		ref, start, end, closing, due         string
		total, paid, status, created, updated string
	)
	if err := s.Scan(&inv.ID, &inv.CardID, &ref, &start, &end, &closing, &due,
		&total, &paid, &status, &created, &updated); err != nil {
		return core.Invoice{}, err
	}
	var err error
	if inv.ReferenceMonth, err = core.ParseMonth(ref); err != nil {
		return core.Invoice{}, err
	}
	if inv.PeriodStart, err = core.ParseDate(start); err != nil {
		return core.Invoice{}, err
	}
	if inv.PeriodEnd, err = core.ParseDate(end); err != nil {
		return core.Invoice{}, err
	}
	if inv.ClosingDate, err = core.ParseDate(closing); err != nil {
		return core.Invoice{}, err
	}
	if inv.DueDate, err = core.ParseDate(due); err != nil {
		return core.Invoice{}, err
	}
	if inv.TotalValue, err = parseMoney(total); err != nil {
		return core.Invoice{}, err
	}
	if inv.PaidValue, err = parseMoney(paid); err != nil {
		return core.Invoice{}, err
	}
	inv.Status = core.InvoiceStatus(status)
	inv.CreatedAt = parseTime(created)
	inv.UpdatedAt = parseTime(updated)
	return inv, nil
}

const installmentColumns = `id, purchase_id, invoice_id, number, total_installments, value, status,
	reversal_of, created_at, updated_at`

func (t *sqliteTx) GetInstallment(ctx context.Context, id string) (core.Installment, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id)
	in, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Installment{}, core.NewNotFoundError("installment", id)
	}
	if err != nil {
		return core.Installment{}, fmt.Errorf("get installment: %w", err)
	}
	return in, nil
}

func (t *sqliteTx) CreateInstallment(ctx context.Context, in core.Installment) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO installments (`+installmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.PurchaseID, in.InvoiceID, in.Number, in.TotalInstallments,
		formatMoney(in.Value), string(in.Status), nullString(in.ReversalOf),
		formatTime(in.CreatedAt), formatTime(in.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create installment: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateInstallment(ctx context.Context, in core.Installment) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE installments SET invoice_id = ?, number = ?, total_installments = ?, value = ?,
			status = ?, updated_at = ?
		WHERE id = ?`,
		in.InvoiceID, in.Number, in.TotalInstallments, formatMoney(in.Value),
		string(in.Status), formatTime(in.UpdatedAt), in.ID)
	if err != nil {
		return fmt.Errorf("update installment: %w", err)
	}
	return expectOneRow(res, "installment", in.ID)
}

func (t *sqliteTx) ListInstallmentsByInvoice(ctx context.Context, invoiceID string) ([]core.Installment, error) {
	return t.listInstallments(ctx, `WHERE invoice_id = ? ORDER BY created_at, number, rowid`, invoiceID)
}

func (t *sqliteTx) ListInstallmentsByPurchase(ctx context.Context, purchaseID string) ([]core.Installment, error) {
	return t.listInstallments(ctx, `WHERE purchase_id = ? ORDER BY number, created_at, rowid`, purchaseID)
}

func (t *sqliteTx) ListInstallmentsByCard(ctx context.Context, cardID string) ([]core.Installment, error) {
	return t.listInstallments(ctx,
		`WHERE invoice_id IN (SELECT id FROM invoices WHERE card_id = ?) ORDER BY created_at, number, rowid`, cardID)
}

func (t *sqliteTx) listInstallments(ctx context.Context, clause string, args ...any) ([]core.Installment, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+installmentColumns+` FROM installments `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	defer rows.Close()

	var out []core.Installment
	for rows.Next() {
		in, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanInstallment(s scanner) (core.Installment, error) {
	var (
		in               core.Installment
		value, status    string
		reversalOf       sql.NullString
		created, updated string
	)
	if err := s.Scan(&in.ID, &in.PurchaseID, &in.InvoiceID, &in.Number, &in.TotalInstallments,
		&value, &status, &reversalOf, &created, &updated); err != nil {
		return core.Installment{}, err
	}
	v, err := parseMoney(value)
	if err != nil {
		return core.Installment{}, err
	}
	in.Value = v
	in.Status = core.InstallmentStatus(status)
	in.ReversalOf = reversalOf.String
	in.CreatedAt = parseTime(created)
	in.UpdatedAt = parseTime(updated)
	return in, nil
}

const purchaseColumns = `id, card_id, description, purchase_date, value, installments, kind,
	origin_purchase_id, created_at`

func (t *sqliteTx) GetPurchase(ctx context.Context, id string) (core.Purchase, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Purchase{}, core.NewNotFoundError("purchase", id)
	}
	if err != nil {
		return core.Purchase{}, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

func (t *sqliteTx) CreatePurchase(ctx context.Context, p core.Purchase) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO purchases (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CardID, p.Description, p.Date.String(), formatMoney(p.Value), p.Installments,
		string(p.Kind), nullString(p.OriginPurchaseID), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdatePurchase(ctx context.Context, p core.Purchase) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE purchases SET description = ?, purchase_date = ?, value = ?, installments = ?
		WHERE id = ?`,
		p.Description, p.Date.String(), formatMoney(p.Value), p.Installments, p.ID)
	if err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	return expectOneRow(res, "purchase", p.ID)
}

func (t *sqliteTx) ListAdjustments(ctx context.Context, originPurchaseID string) ([]core.Purchase, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM purchases
		WHERE origin_purchase_id = ? ORDER BY created_at, rowid`, originPurchaseID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	defer rows.Close()

	var out []core.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPurchase(s scanner) (core.Purchase, error) {
	var (
		p                 core.Purchase
		date, value, kind string
		origin            sql.NullString
		created           string
	)
	if err := s.Scan(&p.ID, &p.CardID, &p.Description, &date, &value, &p.Installments, &kind,
		&origin, &created); err != nil {
		return core.Purchase{}, err
	}
	var err error
	if p.Date, err = core.ParseDate(date); err != nil {
		return core.Purchase{}, err
	}
	if p.Value, err = parseMoney(value); err != nil {
		return core.Purchase{}, err
	}
	p.Kind = core.PurchaseKind(kind)
	p.OriginPurchaseID = origin.String
	p.CreatedAt = parseTime(created)
	return p, nil
}

func (t *sqliteTx) PostMovement(ctx context.Context, m core.LedgerMovement) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ledger_movements (id, account_ref, kind, amount, description, invoice_id, movement_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AccountRef, string(m.Kind), formatMoney(m.Amount), m.Description,
		nullString(m.InvoiceID), m.Date.String(), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("post ledger movement: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListMovements(ctx context.Context, accountRef string) ([]core.LedgerMovement, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, account_ref, kind, amount, description, invoice_id, movement_date, created_at
		FROM ledger_movements WHERE account_ref = ? ORDER BY created_at, rowid`, accountRef)
	if err != nil {
		return nil, fmt.Errorf("list ledger movements: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerMovement
	for rows.Next() {
		var (
			m                           core.LedgerMovement
			kind, amount, date, created string
			invoiceID                   sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.AccountRef, &kind, &amount, &m.Description, &invoiceID, &date, &created); err != nil {
			return nil, fmt.Errorf("scan ledger movement: %w", err)
		}
		m.Kind = core.MovementKind(kind)
		if m.Amount, err = parseMoney(amount); err != nil {
			return nil, err
		}
		if m.Date, err = core.ParseDate(date); err != nil {
			return nil, err
		}
		m.InvoiceID = invoiceID.String
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.NewNotFoundError(entity, id)
	}
	return nil
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(core.MoneyScale)
}

func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
