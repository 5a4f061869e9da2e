package binlogreader

import (
	"errors"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// ErrBinlogIndexCorrupted signals that the source server reported error
// 1236 (binlog index corrupted / requested position no longer exists),
// the same condition binlog_recovery.py reacts to by wiping the affected
// database's event log directory and forcing a supervisor restart.
var ErrBinlogIndexCorrupted = errors.New("binlogreader: binlog index corrupted")

func isIndexCorrupted(err error) bool {
	var myErr *mysql.MyError
	if errors.As(err, &myErr) {
		return myErr.Code == 1236
	}
	return strings.Contains(err.Error(), "1236")
}
