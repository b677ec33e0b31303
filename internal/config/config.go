// Package config holds the tunables for a relstore database instance,
// read from a jsonconfig.Obj the way every newFromConfig constructor in
// the teacher's storage backends reads its settings.
package config

import "relstore/pkg/jsonconfig"

const (
	DefaultPageSize      = 4096
	DefaultFanout        = 4
	DefaultLockRetries   = 10
	DefaultLockTimeoutMS = 100
)

// Config is the set of knobs the storage and transaction layers need.
// It is deliberately small: the hard part of this system is the page
// format and locking protocol, not its configurability.
type Config struct {
	// DataDir is the directory of a single database: its catalog,
	// format stamp, heap and index files, and transaction log (see
	// pkg/facade).
	DataDir string

	// PageSize is the fixed page size in bytes used by every heap and
	// index file. Changing it after a database has pages on disk is
	// not supported.
	PageSize int

	// Fanout is the B+-tree order: maximum children per internal node.
	// Leaves and internal nodes hold at most Fanout-1 keys.
	Fanout int

	// LockRetries is the number of acquire attempts before a blocked
	// lock request fails with LockTimeout.
	LockRetries int

	// LockTimeoutMS is the sleep between acquire attempts, in
	// milliseconds.
	LockTimeoutMS int

	// EnforceForeignKeys turns on the supplemented foreign-key
	// existence check on INSERT (see pkg/exec's checkForeignKeys).
	// Databases loading data already known to be consistent can turn
	// it off to skip the per-row parent-table lookup.
	EnforceForeignKeys bool
}

// Default returns a Config with the nominal values from the spec: a
// 4096-byte page, fanout 4, a 10x100ms bounded lock retry budget, and
// foreign-key enforcement on.
func Default(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		PageSize:           DefaultPageSize,
		Fanout:             DefaultFanout,
		LockRetries:        DefaultLockRetries,
		LockTimeoutMS:      DefaultLockTimeoutMS,
		EnforceForeignKeys: true,
	}
}

// FromObj fills in a Config from a parsed jsonconfig.Obj, applying
// defaults for any key left unset, then calls obj.Validate() to catch
// unknown keys — every accessor above notes the key it read, and
// Validate rejects anything in obj that none of them touched.
func FromObj(obj jsonconfig.Obj) (Config, error) {
	c := Default(obj.RequiredString("dataDir"))
	c.PageSize = obj.OptionalInt("pageSize", DefaultPageSize)
	c.Fanout = obj.OptionalInt("fanout", DefaultFanout)
	c.LockRetries = obj.OptionalInt("lockRetries", DefaultLockRetries)
	c.LockTimeoutMS = obj.OptionalInt("lockTimeoutMS", DefaultLockTimeoutMS)
	c.EnforceForeignKeys = obj.OptionalBool("enforceForeignKeys", true)
	if err := obj.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
