package controller

import "errors"

var (
	ErrAlgorithmLoadFailed    = errors.New("controller: algorithm load failed")
	ErrAlgorithmStartupFailed = errors.New("controller: algorithm startup failed")
	ErrDuplicateAlgorithm     = errors.New("controller: algorithm already registered")
	ErrNoAlgorithm            = errors.New("controller: no algorithm loaded")
	ErrNoSuchChannel          = errors.New("controller: no such channel")
	ErrProcessorExists        = errors.New("controller: processor already registered")
	ErrClosed                 = errors.New("controller: closed")
)
