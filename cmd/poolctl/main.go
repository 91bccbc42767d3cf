package main

import (
	"os"

	// 注册 URL 后端使用的 database/sql 驱动
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/fyerfyer/poolguard/cmd/poolctl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
