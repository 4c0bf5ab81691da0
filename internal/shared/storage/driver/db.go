package driver

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"resume-optimizer/internal/shared/storage/dbutil"
	"resume-optimizer/internal/shared/storage/driver/postgres"
	"resume-optimizer/internal/shared/storage/driver/sqlite"
)

func openDB(driver dbutil.DriverType, dsn string) (*sql.DB, error) {
	if driver == dbutil.DriverSQLite {
		ensureSQLiteDir(dsn)
		return sqlite.Open(dsn)
	}
	return postgres.Open(dsn)
}

// sqliteDSN 将 sqlite:// 前缀转换为驱动可识别的形式
func sqliteDSN(url string) string {
	if rest, ok := strings.CutPrefix(url, "sqlite://"); ok {
		return "file:" + rest
	}
	return url
}

// ensureSQLiteDir 确保数据库文件所在目录存在
func ensureSQLiteDir(dsn string) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return
	}
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
}
