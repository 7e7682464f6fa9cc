package errs

// Sentinel errors shared across the storage and queue layers.
var (
	ErrNotInitialized = NewCodeError(100, "client not initialized")
	ErrInvalidParam   = NewCodeError(101, "invalid parameter")
	ErrScript         = NewCodeError(102, "script execution failed")
	ErrQueueClosed    = NewCodeError(110, "queue closed")
)
