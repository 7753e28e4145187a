package hasura

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// Store implements database.Store with GraphQL queries and mutations.
type Store struct {
	client *Client
	now    func() time.Time
}

var _ database.Store = (*Store)(nil)

// NewStore creates a store on a client.
func NewStore(client *Client) *Store {
	return &Store{client: client, now: time.Now}
}

// validID reports whether id can be a primary key. Hasura rejects malformed uuid
// variables, so lookups short-circuit to ErrNotFound instead.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func newID() string {
	return uuid.NewString()
}

type orderBy map[string]string

type listOptions struct {
	order []orderBy
	limit int
}

func eq(v any) map[string]any {
	return map[string]any{"_eq": v}
}

// statusIn adds a status filter to where when statuses are given.
func statusIn[S ~string](where map[string]any, statuses []S) map[string]any {
	if len(statuses) == 0 {
		return where
	}
	in := make([]string, len(statuses))
	for i, s := range statuses {
		in[i] = string(s)
	}
	where["status"] = map[string]any{"_in": in}
	return where
}

// list selects rows of a table matching where.
func list[T any](ctx context.Context, s *Store, table, fields string, where map[string]any, opts listOptions) ([]T, error) {
	args := "where: $where, order_by: $order"
	if opts.limit > 0 {
		args += fmt.Sprintf(", limit: %d", opts.limit)
	}
	q := fmt.Sprintf(`query ($where: %[1]s_bool_exp!, $order: [%[1]s_order_by!]) {
  rows: %[1]s(%[2]s) { %[3]s }
}`, table, args, fields)

	vars := map[string]any{"where": where, "order": opts.order}
	out, err := execute[struct {
		Rows []T `json:"rows"`
	}](ctx, s.client, q, vars)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return out.Rows, nil
}

// byPK selects one row by primary key, or returns ErrNotFound.
func byPK[T any](ctx context.Context, s *Store, table, pkColumn, id, fields string) (*T, error) {
	if !validID(id) {
		return nil, database.ErrNotFound
	}
	q := fmt.Sprintf(`query ($id: uuid!) {
  row: %s_by_pk(%s: $id) { %s }
}`, table, pkColumn, fields)

	out, err := execute[struct {
		Row *T `json:"row"`
	}](ctx, s.client, q, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	if out.Row == nil {
		return nil, database.ErrNotFound
	}
	return out.Row, nil
}

func (s *Store) count(ctx context.Context, table string, where map[string]any) (int, error) {
	q := fmt.Sprintf(`query ($where: %[1]s_bool_exp!) {
  agg: %[1]s_aggregate(where: $where) { aggregate { count } }
}`, table)

	out, err := execute[struct {
		Agg struct {
			Aggregate struct {
				Count int `json:"count"`
			} `json:"aggregate"`
		} `json:"agg"`
	}](ctx, s.client, q, map[string]any{"where": where})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return out.Agg.Aggregate.Count, nil
}

// insertOne inserts object and decodes the returned fields into T.
func insertOne[T any](ctx context.Context, s *Store, table string, object map[string]any, fields string) (*T, error) {
	q := fmt.Sprintf(`mutation ($object: %[1]s_insert_input!) {
  row: insert_%[1]s_one(object: $object) { %[2]s }
}`, table, fields)

	out, err := execute[struct {
		Row *T `json:"row"`
	}](ctx, s.client, q, map[string]any{"object": object})
	if err != nil {
		return nil, err
	}
	if out.Row == nil {
		return nil, fmt.Errorf("insert %s returned no row", table)
	}
	return out.Row, nil
}

// update sets fields on every row matching where and returns the affected row count.
func (s *Store) update(ctx context.Context, table string, where, set map[string]any) (int, error) {
	q := fmt.Sprintf(`mutation ($where: %[1]s_bool_exp!, $set: %[1]s_set_input!) {
  result: update_%[1]s(where: $where, _set: $set) { affected_rows }
}`, table)

	out, err := execute[struct {
		Result struct {
			AffectedRows int `json:"affected_rows"`
		} `json:"result"`
	}](ctx, s.client, q, map[string]any{"where": where, "set": set})
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return out.Result.AffectedRows, nil
}

// updateStatus applies a status change only from the allowed source statuses and
// resolves a miss into ErrNotFound or ErrInvalidTransition.
func updateStatus[S ~string](ctx context.Context, s *Store, table, pkColumn, id string, allowed []S, set map[string]any) error {
	if !validID(id) {
		return database.ErrNotFound
	}
	where := statusIn(map[string]any{pkColumn: eq(id)}, allowed)
	if len(allowed) == 0 {
		// nothing may move into this status
		where["status"] = map[string]any{"_in": []string{}}
	}
	n, err := s.update(ctx, table, where, set)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := byPK[struct {
		Status string `json:"status"`
	}](ctx, s, table, pkColumn, id, "status"); err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", table, id, database.ErrInvalidTransition)
}

// nullable returns nil for an empty string so the column is stored as null.
func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func fields(names ...string) string {
	return strings.Join(names, " ")
}
