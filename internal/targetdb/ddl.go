package targetdb

import (
	"context"
	"fmt"

	"github.com/dolthub-labs/mysql-ch-replicator/internal/convert"
)

// ExecuteDropTable issues `DROP TABLE IF EXISTS` against the current
// target database.
func (a *API) ExecuteDropTable(ctx context.Context, table string) error {
	return a.ExecuteCommand(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`.`%s`", a.database, table))
}

// ExecuteRenameTable issues `RENAME TABLE` within the current target
// database.
func (a *API) ExecuteRenameTable(ctx context.Context, from, to string) error {
	return a.ExecuteCommand(ctx, fmt.Sprintf("RENAME TABLE `%s`.`%s` TO `%s`.`%s`", a.database, from, a.database, to))
}

// ExecuteTruncateTable issues `TRUNCATE TABLE`.
func (a *API) ExecuteTruncateTable(ctx context.Context, table string) error {
	return a.ExecuteCommand(ctx, fmt.Sprintf("TRUNCATE TABLE `%s`.`%s`", a.database, table))
}

// ApplyAlterOps translates a parsed ALTER TABLE's column operations into
// the equivalent ClickHouse `ALTER TABLE ... ADD/DROP/MODIFY/RENAME
// COLUMN` clauses and executes them as one statement, matching how the
// Python converter emits one rewritten ALTER per source statement.
func (a *API) ApplyAlterOps(ctx context.Context, table string, ops []convert.AlterOp, cctx *convert.Context) error {
	var clauses []string
	for _, op := range ops {
		switch op.Kind {
		case convert.AlterAddColumn:
			chType := convert.ConvertFieldType(convert.ConvertType(cctx, op.Type, op.Params), op.Params, false)
			clause := fmt.Sprintf("ADD COLUMN `%s` %s", op.Column, chType)
			if op.First {
				clause += " FIRST"
			} else if op.After != "" {
				clause += fmt.Sprintf(" AFTER `%s`", op.After)
			}
			clauses = append(clauses, clause)
		case convert.AlterDropColumn:
			clauses = append(clauses, fmt.Sprintf("DROP COLUMN `%s`", op.Column))
		case convert.AlterModifyColumn:
			chType := convert.ConvertFieldType(convert.ConvertType(cctx, op.Type, op.Params), op.Params, false)
			clauses = append(clauses, fmt.Sprintf("MODIFY COLUMN `%s` %s", op.Column, chType))
		case convert.AlterChangeColumn:
			if op.OldName != op.Column {
				clauses = append(clauses, fmt.Sprintf("RENAME COLUMN `%s` TO `%s`", op.OldName, op.Column))
			}
			chType := convert.ConvertFieldType(convert.ConvertType(cctx, op.Type, op.Params), op.Params, false)
			clauses = append(clauses, fmt.Sprintf("MODIFY COLUMN `%s` %s", op.Column, chType))
		case convert.AlterRenameColumn:
			clauses = append(clauses, fmt.Sprintf("RENAME COLUMN `%s` TO `%s`", op.OldName, op.Column))
		}
	}
	if len(clauses) == 0 {
		return nil
	}
	query := fmt.Sprintf("ALTER TABLE `%s`.`%s` ", a.database, table)
	for i, c := range clauses {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	return a.ExecuteCommand(ctx, query)
}
