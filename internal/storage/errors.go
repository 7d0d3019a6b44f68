package storage

import "errors"

var (
	ErrRunAlreadyExists = errors.New("run already exists")
	ErrRunNotFound      = errors.New("run not found")
	ErrAtomNotFound     = errors.New("atom not found")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrStaleVersion     = errors.New("run state_version mismatch, concurrent modification")
)
