package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dsr-engine/pkg/retry"
)

// Connector executes export and deletion work against a PostgreSQL warehouse.
type Connector struct {
	pool   *pgxpool.Pool
	retry  *retry.Config
	logger *zap.Logger
}

// NewConnector creates a PostgreSQL warehouse connector.
// If logger is nil, a no-op logger is used.
func NewConnector(ctx context.Context, connStr string, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres warehouse: %w", err)
	}

	return &Connector{pool: pool, retry: retry.DefaultConfig(), logger: logger}, nil
}

var _ warehouse.Connector = (*Connector)(nil)

// Close releases the warehouse connection pool.
func (c *Connector) Close() error {
	c.pool.Close()
	return nil
}

// qualifiedTableName returns a properly quoted schema.table reference.
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	quotedSchema := pgx.Identifier{schemaName}.Sanitize()
	return quotedSchema + "." + quotedTable
}

// subjectPredicate builds "(col1::text = $1 OR col2::text = $1 ...)" over the
// target's matched columns. Columns are cast to text so the predicate works
// regardless of the stored type.
func subjectPredicate(columns []string) string {
	clauses := make([]string, 0, len(columns))
	for _, col := range columns {
		clauses = append(clauses, pgx.Identifier{col}.Sanitize()+"::text = $1")
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

func (c *Connector) EstimateRows(ctx context.Context, target warehouse.Target, subjectValue string) (int64, error) {
	if err := warehouse.ScreenSubjectValue(subjectValue); err != nil {
		return 0, err
	}
	if len(target.Columns) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s",
		qualifiedTableName(target.SchemaName, target.TableName),
		subjectPredicate(target.Columns))

	// Counts are read-only, so transient warehouse failures are retried.
	count, err := retry.DoWithResult(ctx, c.retry, func() (int64, error) {
		var n int64
		err := c.pool.QueryRow(ctx, query, subjectValue).Scan(&n)
		return n, err
	})
	if err != nil {
		return 0, fmt.Errorf("count subject rows in %s.%s: %w", target.SchemaName, target.TableName, err)
	}

	return count, nil
}

func (c *Connector) ExportRows(ctx context.Context, target warehouse.Target, subjectValue string) (*warehouse.ExportResult, error) {
	if err := warehouse.ScreenSubjectValue(subjectValue); err != nil {
		return nil, err
	}
	if len(target.Columns) == 0 {
		return &warehouse.ExportResult{}, nil
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s",
		qualifiedTableName(target.SchemaName, target.TableName),
		subjectPredicate(target.Columns))

	// Reads are idempotent; the whole extract is retried as a unit so a
	// connection drop mid-iteration never yields a partial document.
	result, err := retry.DoWithResult(ctx, c.retry, func() (*warehouse.ExportResult, error) {
		rows, err := c.pool.Query(ctx, query, subjectValue)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		columns := make([]string, len(fields))
		for i, fd := range fields {
			columns[i] = fd.Name
		}

		out := &warehouse.ExportResult{Columns: columns}
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, err
			}
			row := make(map[string]any, len(columns))
			for i, col := range columns {
				row[col] = values[i]
			}
			out.Rows = append(out.Rows, row)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		out.RowCount = int64(len(out.Rows))
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("export subject rows from %s.%s: %w", target.SchemaName, target.TableName, err)
	}

	return result, nil
}

func (c *Connector) DeleteRows(ctx context.Context, target warehouse.Target, subjectValue string, mode warehouse.DeleteMode) (int64, error) {
	if err := warehouse.ScreenSubjectValue(subjectValue); err != nil {
		return 0, err
	}
	if len(target.Columns) == 0 {
		return 0, nil
	}

	table := qualifiedTableName(target.SchemaName, target.TableName)
	predicate := subjectPredicate(target.Columns)

	var query string
	switch mode {
	case warehouse.DeleteModeRedact:
		assignments := make([]string, 0, len(target.Columns))
		for _, col := range target.Columns {
			assignments = append(assignments, pgx.Identifier{col}.Sanitize()+" = NULL")
		}
		query = fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(assignments, ", "), predicate)
	default:
		query = fmt.Sprintf("DELETE FROM %s WHERE %s", table, predicate)
	}

	tag, err := c.pool.Exec(ctx, query, subjectValue)
	if err != nil {
		return 0, fmt.Errorf("delete subject rows from %s.%s: %w", target.SchemaName, target.TableName, err)
	}

	affected := tag.RowsAffected()
	c.logger.Debug("warehouse delete executed",
		zap.String("schema", target.SchemaName),
		zap.String("table", target.TableName),
		zap.String("mode", string(mode)),
		zap.Int64("affected_rows", affected))

	return affected, nil
}
