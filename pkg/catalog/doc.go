// Package catalog stores policies, rules, versions, gray release tickets,
// agent bindings and allowlist entries in a SQLite database.
//
// SQLiteCatalog implements policy.Store, policy.BindingStore and
// allowlist.Source, so the resolver, the cleaning service and the detection
// orchestrator can all read from one file. The database is opened with a
// single connection; SQLite serializes writers anyway and the catalog is
// read-mostly.
//
// # Seeding
//
// Import replaces the whole catalog in one transaction:
//
//	c, err := policy.LoadCatalogFile("policies.yaml")
//	entries, err := allowlist.ParseEntries(data)
//	err = cat.Import(ctx, c, entries)
//
// A gray ratio in the imported catalog becomes one gray ticket for its
// version. AddGrayTicket appends later tickets; the newest ticket wins.
package catalog
