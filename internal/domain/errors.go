package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code has no active pod.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRemoteUnavailable wraps network or remote store failures.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrContentUnavailable is returned when neither the remote store nor the local cache can serve questions.
	ErrContentUnavailable = errors.New("content unavailable")
	// ErrNotInPod is returned by pod operations that require an active session.
	ErrNotInPod = errors.New("not in a pod")
	// ErrAlreadyInPod is returned when entering a second pod without leaving the first.
	ErrAlreadyInPod = errors.New("already in a different pod")
	// ErrNotHost is returned when a non-host attempts a host-only action.
	ErrNotHost = errors.New("only the host can perform this action")
	// ErrRoomCodeTaken is returned by remote stores when an active pod already uses a room code.
	ErrRoomCodeTaken = errors.New("room code already in use")
	// ErrMemberNotFound indicates the device has no membership row in the pod.
	ErrMemberNotFound = errors.New("pod member not found")
)
