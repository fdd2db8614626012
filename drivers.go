package zgraph

// Registered database/sql drivers: "sqlite3" (cgo), "sqlite" (pure Go),
// "mysql", "postgres" and "pgx".
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)
