package recipients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool used by DirectoryProvider.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DirectoryProvider reads recipients from the local directory table. It is
// the fallback when no identity backend toggle is enabled.
type DirectoryProvider struct {
	db Querier
}

func NewDirectoryProvider(db Querier) *DirectoryProvider {
	return &DirectoryProvider{db: db}
}

func (d *DirectoryProvider) Name() string { return "directory" }

// Keyset pagination on id; the cursor is the last id of the previous page.
const directoryPageSQL = `
	SELECT id, enabled
	FROM harborconnect.recipients
	WHERE org_id = $1 AND id > $2
	ORDER BY id
	LIMIT $3`

func (d *DirectoryProvider) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	rows, err := d.db.Query(ctx, directoryPageSQL, req.OrgID, req.Cursor, req.PageSize)
	if err != nil {
		return Page{}, &ResolutionError{Cause: dbCause(err), Provider: d.Name(), Err: err}
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Recipient, error) {
		var r Recipient
		if err := row.Scan(&r.ID, &r.Enabled); err != nil {
			return r, &ResolutionError{Cause: Malformed, Provider: d.Name(), Err: fmt.Errorf("scan recipient: %w", err)}
		}
		return r, nil
	})
	if err != nil {
		var rerr *ResolutionError
		if errors.As(err, &rerr) {
			return Page{}, rerr
		}
		return Page{}, &ResolutionError{Cause: dbCause(err), Provider: d.Name(), Err: fmt.Errorf("read recipients: %w", err)}
	}

	page := Page{Recipients: recs}
	if len(recs) == req.PageSize && len(recs) > 0 {
		page.NextCursor = recs[len(recs)-1].ID
	}
	return page, nil
}

func dbCause(err error) Cause {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01", "42501":
			return Unauthorized
		case "57014":
			return Timeout
		}
		return Malformed
	}
	if pgconn.Timeout(err) {
		return Timeout
	}
	return transportCause(err)
}
