package synctree

import "errors"

var (
	ErrNotFound      = errors.New("synctree: path not found")
	ErrAlreadyExists = errors.New("synctree: path already exists")
	ErrNotDir        = errors.New("synctree: not a directory")
	ErrNotFile       = errors.New("synctree: not a file")
	ErrInvalidCID    = errors.New("synctree: invalid content identifier")
	ErrNotRunning    = errors.New("synctree: engine not running")
	ErrNoRemote      = errors.New("synctree: no remote configured")
)
