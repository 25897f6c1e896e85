package models

import "errors"

// Sentinel errors for the recognition subsystem. Callers classify with
// errors.Is; producers wrap them with context using %w.
var (
	// ErrPermissionDenied indicates the capture device refused access
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceFailure indicates the capture device failed to start or died mid-stream
	ErrDeviceFailure = errors.New("audio device failure")

	// ErrGenerationFailure indicates a fingerprint could not be produced
	ErrGenerationFailure = errors.New("signature generation failed")

	// ErrMatchInProgress indicates the session is already busy
	ErrMatchInProgress = errors.New("recognition already in progress")

	// ErrCatalogNotFound indicates the catalog directory or active catalog is missing
	ErrCatalogNotFound = errors.New("catalog not found")

	// ErrCatalogCreationFailed indicates the catalog layout could not be created
	ErrCatalogCreationFailed = errors.New("catalog creation failed")

	// ErrItemPersistenceFailed indicates a catalog item could not be written or removed
	ErrItemPersistenceFailed = errors.New("catalog item persistence failed")

	// ErrImportExportFailed indicates a catalog bundle could not be packed or unpacked
	ErrImportExportFailed = errors.New("catalog import/export failed")

	// ErrHistoryPersistence indicates a history write could not be flushed
	ErrHistoryPersistence = errors.New("history persistence failure")

	// ErrNotFound indicates a requested record does not exist
	ErrNotFound = errors.New("not found")
)
