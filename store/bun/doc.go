// Package bunstore implements history.Store using the Bun ORM with the
// PostgreSQL dialect. Pair it with any job store when history should live
// in a database that is already managed through Bun.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/xraph/flowcore/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	hist := bunstore.New(db)
//	hist.Migrate(ctx)
package bunstore
