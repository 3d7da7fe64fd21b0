package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"watchdata/internal/storage"
)

const (
	queryTimeout  = 5 * time.Second
	queryRowLimit = 1000
)

// checkQuery accepts a single SELECT statement and appends a LIMIT when the
// statement has none.
func checkQuery(sql string) (string, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", fmt.Errorf("missing sql parameter")
	}

	upper := strings.ToUpper(sql)
	if !strings.HasPrefix(upper, "SELECT") {
		return "", fmt.Errorf("only SELECT queries allowed")
	}

	if strings.Contains(sql, ";") {
		return "", fmt.Errorf("multi-statement queries not allowed")
	}

	if !strings.Contains(upper, "LIMIT") {
		sql = fmt.Sprintf("%s LIMIT %d", sql, queryRowLimit)
	}
	return sql, nil
}

func handleQuery(store *storage.Storage, log *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sql, err := checkQuery(r.FormValue("sql"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()

		rows, err := store.DB().QueryContext(ctx, sql)
		if err != nil {
			requestLog(log, r).WithError(err).Warn("query error")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer rows.Close()

		cols, _ := rows.Columns()
		results := []map[string]any{}

		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				requestLog(log, r).WithError(err).Error("scan error")
				writeError(w, http.StatusInternalServerError, "failed to scan row")
				return
			}

			row := make(map[string]any, len(cols))
			for i, col := range cols {
				if b, ok := vals[i].([]byte); ok {
					row[col] = string(b)
					continue
				}
				row[col] = vals[i]
			}
			results = append(results, row)
		}

		if err := rows.Err(); err != nil {
			requestLog(log, r).WithError(err).Error("rows error")
			writeError(w, http.StatusInternalServerError, "error reading results")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"columns": cols,
			"rows":    results,
			"count":   len(results),
		})
	})
}
