package errors

// Kind classifies an error for callers of the tool surface.
// Kinds are stable wire strings; tools surface them verbatim in
// {status: "error", kind, message, retryable} responses.
type Kind string

const (
	// KindInvalidInput is a caller-visible contract violation: missing
	// required field, malformed filter, value out of range.
	KindInvalidInput Kind = "InvalidInput"

	// KindInvalidMetadata means the metadata envelope failed validation.
	KindInvalidMetadata Kind = "InvalidMetadata"

	// KindIndexRequired means a filter references a payload path with no
	// keyword index. The service creates all required indexes at startup,
	// so this surfaces only for fields outside the indexed set.
	KindIndexRequired Kind = "IndexRequired"

	// KindNotFound means the target record does not exist.
	KindNotFound Kind = "NotFound"

	// KindConflict means a duplicate was detected at a level that requires
	// caller action (import policy "error").
	KindConflict Kind = "Conflict"

	// KindBackendUnavailable means the vector store returned a transport
	// or server error. Retryable.
	KindBackendUnavailable Kind = "BackendUnavailable"

	// KindEmbeddingFailure means the embedder returned an error. Retryable.
	KindEmbeddingFailure Kind = "EmbeddingFailure"

	// KindIntegrityMismatch means an audit or restore found a checksum or
	// content hash mismatch.
	KindIntegrityMismatch Kind = "IntegrityMismatch"

	// KindInternal is an unclassified bug.
	KindInternal Kind = "Internal"
)

// retryableKinds lists the kinds a caller (or a bounded internal retry)
// may safely retry.
var retryableKinds = map[Kind]bool{
	KindBackendUnavailable: true,
	KindEmbeddingFailure:   true,
}

// Retryable reports whether errors of this kind may be retried.
func (k Kind) Retryable() bool {
	return retryableKinds[k]
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInvalidInput, KindInvalidMetadata, KindIndexRequired,
		KindNotFound, KindConflict, KindBackendUnavailable,
		KindEmbeddingFailure, KindIntegrityMismatch, KindInternal:
		return true
	}
	return false
}
