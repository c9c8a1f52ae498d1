package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dsr-engine/pkg/retry"
)

// Connector executes export and deletion work against a SQL Server warehouse.
type Connector struct {
	db     *sql.DB
	retry  *retry.Config
	logger *zap.Logger
}

// NewConnector creates a SQL Server warehouse connector.
// If logger is nil, a no-op logger is used.
func NewConnector(connStr string, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver warehouse: %w", err)
	}

	return &Connector{db: db, retry: retry.DefaultConfig(), logger: logger}, nil
}

var _ warehouse.Connector = (*Connector)(nil)

// Close releases the warehouse connection.
func (c *Connector) Close() error {
	return c.db.Close()
}

// quoteName quotes an identifier with square brackets, escaping ] as ]].
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return "[" + escaped + "]"
}

// qualifiedTableName builds a fully qualified table name: [schema].[table].
func qualifiedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		schemaName = "dbo"
	}
	return quoteName(schemaName) + "." + quoteName(tableName)
}

// subjectPredicate builds "(CAST(col1 AS NVARCHAR(MAX)) = @p1 OR ...)" over
// the target's matched columns.
func subjectPredicate(columns []string) string {
	clauses := make([]string, 0, len(columns))
	for _, col := range columns {
		clauses = append(clauses, "CAST("+quoteName(col)+" AS NVARCHAR(MAX)) = @p1")
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

	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s WHERE %s",
		qualifiedTableName(target.SchemaName, target.TableName),
		subjectPredicate(target.Columns))

	// Counts are read-only, so transient warehouse failures are retried.
	count, err := retry.DoWithResult(ctx, c.retry, func() (int64, error) {
		var n int64
		err := c.db.QueryRowContext(ctx, query, sql.Named("p1", subjectValue)).Scan(&n)
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
		rows, err := c.db.QueryContext(ctx, query, sql.Named("p1", subjectValue))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return nil, err
		}

		out := &warehouse.ExportResult{Columns: columns}
		for rows.Next() {
			values := make([]any, len(columns))
			scanTargets := make([]any, len(columns))
			for i := range values {
				scanTargets[i] = &values[i]
			}
			if err := rows.Scan(scanTargets...); err != nil {
				return nil, err
			}

			row := make(map[string]any, len(columns))
			for i, col := range columns {
				if b, ok := values[i].([]byte); ok {
					row[col] = string(b)
				} else {
					row[col] = values[i]
				}
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
			assignments = append(assignments, quoteName(col)+" = NULL")
		}
		query = fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(assignments, ", "), predicate)
	default:
		query = fmt.Sprintf("DELETE FROM %s WHERE %s", table, predicate)
	}

	res, err := c.db.ExecContext(ctx, query, sql.Named("p1", subjectValue))
	if err != nil {
		return 0, fmt.Errorf("delete subject rows from %s.%s: %w", target.SchemaName, target.TableName, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read affected row count: %w", err)
	}

	c.logger.Debug("warehouse delete executed",
		zap.String("schema", target.SchemaName),
		zap.String("table", target.TableName),
		zap.String("mode", string(mode)),
		zap.Int64("affected_rows", affected))

	return affected, nil
}
