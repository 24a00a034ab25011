package db

import (
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens the store. sqlite-shaped DSNs ("file:...", ":memory:",
// "*.db") use the embedded engine; anything else is treated as a mysql
// DSN.
func Connect(dsn string) (*gorm.DB, error) {
	var dial gorm.Dialector
	if isSQLiteDSN(dsn) {
		dial = gormsqlite.Open(dsn)
	} else {
		dial = mysql.Open(dsn)
	}
	return gorm.Open(dial, &gorm.Config{})
}

func isSQLiteDSN(dsn string) bool {
	if strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return true
	}
	base := dsn
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return strings.HasSuffix(base, ".db") || strings.HasSuffix(base, ".sqlite")
}
