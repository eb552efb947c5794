package sharing

import "errors"

var (
	// ErrShareExpired indicates the token's expiry has passed.
	ErrShareExpired = errors.New("sharing: share expired")

	// ErrShareScopeMismatch indicates the requested path is outside the
	// token's path scope.
	ErrShareScopeMismatch = errors.New("sharing: path outside share scope")

	// ErrSnapshotMismatch indicates a snapshot share no longer matches the
	// object currently bound to its path.
	ErrSnapshotMismatch = errors.New("sharing: snapshot binding mismatch")

	// ErrShareRevoked indicates the share was revoked by its issuer.
	ErrShareRevoked = errors.New("sharing: share revoked")

	// ErrPermissionDenied indicates the token does not grant the requested
	// operation.
	ErrPermissionDenied = errors.New("sharing: permission denied")

	// ErrAcceptFailed indicates the wrapped DEK could not be unwrapped:
	// wrong recipient, tampered token, or a retargeted binding.
	ErrAcceptFailed = errors.New("sharing: accept failed")

	// ErrMalformedToken indicates token bytes that cannot be parsed.
	ErrMalformedToken = errors.New("sharing: malformed token")

	// ErrMalformedLink indicates a secret-link URL that cannot be parsed.
	ErrMalformedLink = errors.New("sharing: malformed secret link")

	// ErrUnknownFolder indicates a folder with no registered DEK.
	ErrUnknownFolder = errors.New("sharing: unknown folder")
)
