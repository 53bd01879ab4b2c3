package bookdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/opds"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const booksTableName = `patron_books`

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type postgres struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgres(db *sqlx.DB, log *zap.Logger) Database {
	return &postgres{db: db, log: log.Named("bookdb")}
}

func (r *postgres) Books(ctx context.Context, accountID string) ([]books.ID, error) {
	query, args, err := qb.Select("book_id").
		From(booksTableName).
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("book_id").
		ToSql()
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, err
	}
	out := make([]books.ID, 0, len(ids))
	for _, id := range ids {
		out = append(out, books.ID(id))
	}
	return out, nil
}

func (r *postgres) Entry(ctx context.Context, accountID string, id books.ID) (*Entry, error) {
	query, args, err := qb.Select("entry").
		From(booksTableName).
		Where(sq.Eq{"account_id": accountID}).
		Where(sq.Eq{"book_id": string(id)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := r.db.GetContext(ctx, &raw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("Entry", zap.String("q", query), zap.Any("args", args))
		return nil, err
	}
	var e opds.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errors.Wrap(err, "decode entry")
	}
	return &Entry{ID: id, Book: e}, nil
}

func (r *postgres) CreateOrUpdate(ctx context.Context, accountID string, e opds.Entry) (*Entry, error) {
	id := books.NewID(e.ID)
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encode entry")
	}
	query, args, err := qb.Insert(booksTableName).
		Columns("account_id", "book_id", "entry", "updated_at").
		Values(accountID, string(id), raw, time.Now().UTC()).
		Suffix(`on conflict (account_id, book_id) do update
			set entry = excluded.entry, updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// The conflict clause should prevent this; treat as retryable.
			return nil, errors.Wrap(err, "concurrent upsert")
		}
		return nil, err
	}
	return &Entry{ID: id, Book: e}, nil
}

func (r *postgres) WriteEntry(ctx context.Context, accountID string, id books.ID, e opds.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}
	query, args, err := qb.Update(booksTableName).
		Set("entry", raw).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"account_id": accountID}).
		Where(sq.Eq{"book_id": string(id)}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgres) Delete(ctx context.Context, accountID string, id books.ID) error {
	query, args, err := qb.Delete(booksTableName).
		Where(sq.Eq{"account_id": accountID}).
		Where(sq.Eq{"book_id": string(id)}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
