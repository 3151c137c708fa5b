package protocol

import "errors"

// ErrReset is returned when the dispatcher signals a sign collision; the
// caller is expected to regenerate its sign and retry the REQUESTPORT step.
var ErrReset = errors.New("protocol: sign in use by another peer, reset")

// ErrFileNotFound is returned when a peer signals that the requested file
// is absent for a send request.
var ErrFileNotFound = errors.New("protocol: peer reports file not found")
