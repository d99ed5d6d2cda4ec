// Package errors provides structured error handling with machine-readable codes.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Schema errors (structural validation, Layer 1)
	CodeSchemaUnknownTemplate Code = "SCHEMA_UNKNOWN_TEMPLATE"
	CodeSchemaMissingField    Code = "SCHEMA_MISSING_FIELD"
	CodeSchemaInvalidField    Code = "SCHEMA_INVALID_FIELD"
	CodeSchemaUnknownField    Code = "SCHEMA_UNKNOWN_FIELD"
	CodeSchemaEmptyName       Code = "SCHEMA_EMPTY_NAME"

	// Rule errors (Layer 2)
	CodeRuleMissingReference   Code = "RULE_MISSING_REFERENCE"
	CodeRuleMissingReciprocal  Code = "RULE_MISSING_RECIPROCAL"
	CodeRuleDateOrder          Code = "RULE_DATE_ORDER"
	CodeRuleExclusiveTraits    Code = "RULE_EXCLUSIVE_TRAITS"
	CodeRuleExclusiveField     Code = "RULE_EXCLUSIVE_FIELD"
	CodeRuleInvalidStatusShift Code = "RULE_INVALID_STATUS_TRANSITION"

	// Semantic findings (Layer 3)
	CodeSemanticCritical Code = "SEMANTIC_CRITICAL"
	CodeSemanticWarning  Code = "SEMANTIC_WARNING"
	CodeSemanticSkipped  Code = "SEMANTIC_SKIPPED"

	// Concurrency errors
	CodeStaleRevision Code = "STALE_REVISION"
	CodeDuplicateID   Code = "DUPLICATE_ID"

	// Storage errors
	CodeNotFound            Code = "NOT_FOUND"
	CodeStorageIO           Code = "STORAGE_IO"
	CodeCorruptionDetected  Code = "CORRUPTION_DETECTED"
	CodeLedgerTruncated     Code = "LEDGER_TRUNCATED"
	CodeLedgerLockHeld      Code = "LEDGER_LOCK_HELD"
	CodeLedgerUnknownEvent  Code = "LEDGER_UNKNOWN_EVENT_TYPE"
	CodeLedgerEmptyPayload  Code = "LEDGER_EMPTY_PAYLOAD"
	CodeLedgerSeqRegression Code = "LEDGER_SEQ_REGRESSION"

	// Backup errors
	CodeBackupNotFound         Code = "BACKUP_NOT_FOUND"
	CodeBackupManifestMissing  Code = "BACKUP_MANIFEST_MISSING"
	CodeBackupChecksumMismatch Code = "BACKUP_CHECKSUM_MISMATCH"

	// Session errors
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"
	CodeSessionNotActive     Code = "SESSION_NOT_ACTIVE"

	// Contradiction errors
	CodeContradictionNotOpen Code = "CONTRADICTION_NOT_OPEN"
)

// Retryable reports whether an operation failing with this code may succeed
// if retried by the caller without any other change.
func (c Code) Retryable() bool {
	switch c {
	case CodeStaleRevision, CodeLedgerLockHeld:
		return true
	}
	return false
}
