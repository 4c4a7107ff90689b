// Package drf provides the types and services of a client-side data-access
// layer for Django REST Framework style CRUD backends.
//
// # Overview
//
// The drf package defines the wire types (TokenPair, Request, Response,
// PageResponse), the closed error variant returned by every HTTP call, and the
// services that sit on top of an HTTP Requester:
//
//   - QueryCache: keyed, deduplicated, subscribable read cache
//   - MutationEngine: create/update/delete/action writes with cache reconciliation
//   - PaginationController: bounded page index driven by a total count
//   - FormBridge: maps validation failures onto form fields and a summary string
//
// A concrete Requester bound to an authentication session is built by the
// drfclient package. Most consumers should import drfclient to construct a
// client and use the services exposed here.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/dose3d/drf-crud-client/pkg/drfclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := drfclient.New(ctx, &drfclient.Config{BaseURL: "https://backend.example.com"})
//	  if err != nil { log.Fatal(err) }
//
//	  if err := cli.Login(ctx, "alice", "secret"); err != nil { log.Fatal(err) }
//
//	  page, err := drfclient.GetPage[Job](ctx, cli, "jobs", 10, 1, nil)
//	  if err != nil { log.Fatal(err) }
//	  _ = page
//	}
//
// # Cache keys
//
// Reads are cached under QueryKey values built by EntityKey, ListKey and
// PageKey. Mutations reconcile the same keys according to a CacheBehaviour:
//
//	m := cli.Mutations().Mutation(drf.MutationOptions{
//	  Resource:       "jobs",
//	  PrimaryKey:     "7",
//	  CacheBehaviour: drf.CacheBehaviourSet,
//	})
//	resp, err := m.MutateAsync(ctx, map[string]any{"title": "new title"})
//
// # Errors
//
// Every failed call returns a *Error whose Kind is one of Connectivity,
// Validation, Server, Client, AuthExpired or Cancelled. Helpers such as
// IsValidation, IsConnectivity and IsUnauthorized branch on common cases.
package drf
