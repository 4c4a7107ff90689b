// Package drfclient is the entry point for building a client against a
// Django REST Framework backend. It wires an authentication session, a
// refreshing HTTP client, a query cache and a mutation engine from a single
// Config.
//
// Quick start
//
//	ctx := context.Background()
//
//	cli, err := drfclient.New(ctx, &drfclient.Config{
//	  BaseURL:    "https://backend.example.com",
//	  Storage:    drfclient.StorageFile,
//	  StorageDir: "/var/lib/myapp",
//	})
//	if err != nil { log.Fatal(err) }
//	defer cli.Close()
//
//	if !cli.Authenticated() {
//	  if err := cli.Login(ctx, "alice", "secret"); err != nil { log.Fatal(err) }
//	}
//
//	job, err := drfclient.GetEntity[Job](ctx, cli, "jobs", 7)
//
// Reads are served from the query cache and deduplicated per key. Writes
// go through cli.Mutations() and reconcile the cache on success. Expired
// access tokens are refreshed transparently, once per session no matter how
// many requests notice the expiry at the same time.
//
// Configuration can also be loaded from YAML and the environment with
// LoadConfig; see internal/config for the recognised keys.
package drfclient
