package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// DriverDetail is what the database driver reported for a failed statement.
type DriverDetail struct {
	Driver     string `json:"driver"`
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ErrorDump is an error chain flattened for logging.
type ErrorDump struct {
	Message   string        `json:"message"`
	Code      Code          `json:"code,omitempty"`
	Retryable bool          `json:"retryable"`
	Chain     []string      `json:"chain,omitempty"`
	Driver    *DriverDetail `json:"driver,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{
		Message:   err.Error(),
		Retryable: IsRetryable(err),
		Driver:    driverDetail(err),
	}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}

func driverDetail(err error) *DriverDetail {
	if pgxErr := (*pgconn.PgError)(nil); errors.As(err, &pgxErr) {
		return &DriverDetail{
			Driver:     "pgx",
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	if pqErr := (*pq.Error)(nil); errors.As(err, &pqErr) {
		return &DriverDetail{
			Driver:     "pq",
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return &DriverDetail{
			Driver:  "sqlite3",
			Code:    liteErr.ExtendedCode.Error(),
			Message: liteErr.Error(),
		}
	}
	return nil
}

// Fields renders the dump as logger fields. Driver details are prefixed with
// "db_" and omitted when empty.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_code":  d.Code,
		"error_chain": d.Chain,
		"retryable":   d.Retryable,
	}
	if d.Driver == nil {
		return fields
	}
	for key, value := range map[string]string{
		"db_driver":     d.Driver.Driver,
		"db_code":       d.Driver.Code,
		"db_constraint": d.Driver.Constraint,
		"db_table":      d.Driver.Table,
		"db_column":     d.Driver.Column,
		"db_detail":     d.Driver.Detail,
		"db_message":    d.Driver.Message,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
