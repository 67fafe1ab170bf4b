package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"stockdesk/internal/model"
)

// DefaultSearchLimit is used when Search is called with a non-positive limit.
// Larger limits are clamped to model.MaxSearchLimit.
const DefaultSearchLimit = 10

const selectColumns = `code, name, listCount, auditInfo, regDay, lastPrice, state,
	marketCode, marketName, upName, upSizeName, companyClassName, orderWarning, nxtEnable`

// Search returns up to limit instruments whose code or name starts with
// prefix, in insertion order. The comparison is case-sensitive and treats
// '%' and '_' literally. A blank prefix returns an empty slice without
// querying the database.
func (s *Store) Search(ctx context.Context, prefix string, limit int) ([]model.Instrument, error) {
	if strings.TrimSpace(prefix) == "" {
		return []model.Instrument{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, model.MaxSearchLimit)

	n := utf8.RuneCountInString(prefix)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM stocks
		WHERE substr(code, 1, ?) = ? OR substr(name, 1, ?) = ?
		ORDER BY rowid ASC
		LIMIT ?
	`, n, prefix, n, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite search: %w", err)
	}
	defer rows.Close()

	out := make([]model.Instrument, 0, limit)
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// LookupByExactName returns the first instrument whose name equals name.
// Returns model.ErrNotFound on a miss.
func (s *Store) LookupByExactName(ctx context.Context, name string) (model.Instrument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM stocks
		WHERE name = ?
		ORDER BY rowid ASC
		LIMIT 1
	`, name)
	inst, err := scanInstrument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Instrument{}, fmt.Errorf("instrument %q: %w", name, model.ErrNotFound)
		}
		return model.Instrument{}, fmt.Errorf("sqlite lookup: %w", err)
	}
	return inst, nil
}

// Count returns the number of cached instruments.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstrument(sc scanner) (model.Instrument, error) {
	var (
		inst model.Instrument
		cols [13]sql.NullString
	)
	err := sc.Scan(&inst.Code, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5],
		&cols[6], &cols[7], &cols[8], &cols[9], &cols[10], &cols[11], &cols[12])
	if err != nil {
		return inst, err
	}
	inst.Name = cols[0].String
	inst.ListCount = cols[1].String
	inst.AuditInfo = cols[2].String
	inst.RegDay = cols[3].String
	inst.LastPrice = cols[4].String
	inst.State = cols[5].String
	inst.MarketCode = cols[6].String
	inst.MarketName = cols[7].String
	inst.UpName = cols[8].String
	inst.UpSizeName = cols[9].String
	inst.CompanyClassName = cols[10].String
	inst.OrderWarning = cols[11].String
	inst.NxtEnable = cols[12].String
	return inst, nil
}
