package forest

import "errors"

var (
	// ErrNotFound indicates no entry exists at the requested path.
	ErrNotFound = errors.New("forest: not found")

	// ErrCorrupt indicates the forest blob failed to decrypt or parse.
	// A corrupt forest is distinguishable from a missing one: missing loads
	// as an empty bucket, corrupt refuses reads.
	ErrCorrupt = errors.New("forest: corrupt index")

	// ErrMigrationInProgress indicates a mutation raced a format migration.
	ErrMigrationInProgress = errors.New("forest: migration in progress")

	// ErrUnknownFormat indicates an unrecognized format discriminator.
	ErrUnknownFormat = errors.New("forest: unknown format")
)
