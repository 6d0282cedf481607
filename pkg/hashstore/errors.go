package hashstore

import "errors"

// The error taxonomy of spec.md §7, surfaced as wrapped sentinels so
// callers can use errors.Is against a stable, documented set.
var (
	// ErrRequestInProgress is returned by StoreObject when a concurrent
	// request already holds the pid lock for the same pid (StoreObject
	// takes that lock without blocking).
	ErrRequestInProgress = errors.New("hashstore: request already in progress for this identifier")

	// ErrSizeMismatch is returned when a caller-supplied objSize disagrees
	// with the number of bytes actually streamed.
	ErrSizeMismatch = errors.New("hashstore: object size does not match expected size")

	// ErrChecksumMismatch is returned when a caller-supplied checksum
	// disagrees with the computed digest for checksumAlgorithm.
	ErrChecksumMismatch = errors.New("hashstore: checksum does not match computed digest")

	// ErrCrossDeviceMove is returned when the temp directory and the
	// object/metadata/refs root are not on the same filesystem.
	ErrCrossDeviceMove = errors.New("hashstore: temp directory and destination are not on the same filesystem")

	// ErrPidAlreadyRefsOtherCid is returned by TagObject when the pid is
	// already bound to a different cid than the one requested.
	ErrPidAlreadyRefsOtherCid = errors.New("hashstore: pid already refs a different cid")

	// ErrHashStoreRefsAlreadyExist is returned by TagObject when the
	// requested (pid, cid) binding is already fully reflected on disk.
	ErrHashStoreRefsAlreadyExist = errors.New("hashstore: pid/cid binding already exists")

	// ErrPidRefsFileNotFound is returned by FindObject, and by
	// RetrieveObject/GetHexDigest which resolve through it, when no
	// pid-refs file exists for the given pid.
	ErrPidRefsFileNotFound = errors.New("hashstore: pid-refs file not found")

	// ErrNotFound is returned by DeleteObject(pid) when the pid is
	// unknown.
	ErrNotFound = errors.New("hashstore: not found")

	// ErrFileNotFound is returned by RetrieveObject/RetrieveMetadata when
	// the target file does not exist.
	ErrFileNotFound = errors.New("hashstore: file not found")

	// ErrUnsupportedAlgorithm is returned for an algorithm name outside
	// the closed set, or for GetHexDigest against an algorithm that was
	// never computed for the given object.
	ErrUnsupportedAlgorithm = errors.New("hashstore: unsupported or uncomputed algorithm")

	// ErrConfigMismatch is returned by New when an existing descriptor
	// disagrees with the caller-supplied configuration.
	ErrConfigMismatch = errors.New("hashstore: on-disk configuration does not match requested configuration")

	// ErrExistingUnmanagedData is returned by New when the store root has
	// files but no descriptor.
	ErrExistingUnmanagedData = errors.New("hashstore: store root contains data but no descriptor")

	// ErrInvalidPid is returned for an empty or whitespace-containing
	// pid.
	ErrInvalidPid = errors.New("hashstore: pid must be non-empty and whitespace-free")
)
