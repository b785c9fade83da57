package studentsync

import "context"

// Pool is the server's shared state:
// the consolidated files
// and, for each client, the set of filenames it last reported owning.
// Implementations must be safe for concurrent use.
type Pool interface {
	// Report replaces the known filenames of client with names.
	// It returns the members of names that are not in the pool,
	// in the order they appear in names.
	// Recording and computing happen atomically.
	Report(ctx context.Context, client ClientID, names []string) (missing []string, err error)

	// Merge adds records to the pool.
	// A record replaces any existing record with the same name.
	Merge(ctx context.Context, records []FileRecord) error

	// Wanted returns the records in the pool
	// whose names are not among the client's last reported filenames,
	// sorted by name.
	// If the client has never reported,
	// the error is ErrUnknownClient.
	Wanted(ctx context.Context, client ClientID) ([]FileRecord, error)

	// Forget discards what the pool knows about client.
	// Forgetting an unknown client is not an error.
	Forget(ctx context.Context, client ClientID) error

	// Get gets the record with the given name.
	// If there is none, the error is ErrNotFound.
	Get(ctx context.Context, name string) (FileRecord, error)

	// ListNames calls a function for each filename in the pool in lexicographic order,
	// beginning with the first name _after_ the specified one.
	// If the callback returns an error,
	// ListNames exits with that error.
	ListNames(ctx context.Context, start string, f func(string) error) error
}
