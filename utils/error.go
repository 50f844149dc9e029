package utils

import "errors"

var (
	ErrorRecordNotFound  = errors.New("record not found")
	ErrorLockNotObtained = errors.New("could not obtain lock")
	ErrorServiceNotReady = errors.New("service not ready")
)
