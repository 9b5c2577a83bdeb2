package cmd

const (
	// Success is the same as EXIT_SUCCESS in C
	Success = iota

	// BadArgs passed to cli; not our fault.
	BadArgs

	// ServerFailed means the server could not be booted (bad root, port in use).
	ServerFailed

	// TransferFailed means a request went out, but nothing usable came back.
	TransferFailed

	// UnknownError is an uncategorized error, probably our fault.
	UnknownError
)
