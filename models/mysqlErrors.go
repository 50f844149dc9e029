package models

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// ErrRiskConflict means a risk write lost a race: a duplicate open record, or a record that
// was closed or removed between read and write.
var ErrRiskConflict = errors.New("risk record conflict")

func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
