// Package mongo implements history.Store on a MongoDB collection using the
// official v2 driver. Records are append-only documents keyed by their
// history ID.
//
// The caller owns the *mongo.Client lifecycle; this package never
// disconnects it:
//
//	import (
//	    mongod "go.mongodb.org/mongo-driver/v2/mongo"
//	    "go.mongodb.org/mongo-driver/v2/mongo/options"
//	    "github.com/xraph/flowcore/store/mongo"
//	)
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	hist := mongo.New(client.Database("flowcore"))
//	hist.Migrate(ctx)
package mongo
