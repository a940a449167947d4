package audit

import "fmt"

// MustLog writes event and wraps a failure so that the caller can fail the
// audited operation with it.
func MustLog(w Writer, event *Event) error {
	if w == nil {
		return nil
	}
	if err := w.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

func resultOf(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// LogCSRCreated records a certificate request.
func LogCSRCreated(w Writer, variant, subject, algorithm string) error {
	return MustLog(w, NewEvent(EventCSRCreated, ResultSuccess).
		WithObject(Object{Type: "csr", Subject: subject}).
		WithContext(Context{Variant: variant, Operation: "create_csr", Algorithm: algorithm}))
}

// LogCertIssued records an issued certificate.
func LogCertIssued(w Writer, variant, operation, serial, subject, issuer, algorithm string) error {
	return MustLog(w, NewEvent(EventCertIssued, ResultSuccess).
		WithObject(Object{Type: "certificate", Serial: serial, Subject: subject, Issuer: issuer}).
		WithContext(Context{Variant: variant, Operation: operation, Algorithm: algorithm}))
}

// LogIssuanceFailed records a failed CSR or certificate operation.
func LogIssuanceFailed(w Writer, variant, operation, reason string) error {
	return MustLog(w, NewEvent(EventIssuanceFailed, ResultFailure).
		WithObject(Object{Type: "certificate"}).
		WithContext(Context{Variant: variant, Operation: operation, Reason: reason}))
}

// LogChainVerified records a chain verification outcome. reason is empty
// for a valid chain.
func LogChainVerified(w Writer, subject string, valid bool, reason string, chainLen int) error {
	return MustLog(w, NewEvent(EventChainVerified, resultOf(valid)).
		WithObject(Object{Type: "chain", Subject: subject}).
		WithContext(Context{Reason: reason, ChainLen: chainLen}))
}

// LogRemoteSign records a signature made by a custody backend.
func LogRemoteSign(w Writer, handle, scheme string, success bool, reason string) error {
	return MustLog(w, NewEvent(EventRemoteSign, resultOf(success)).
		WithObject(Object{Type: "key", KeyHandle: handle}).
		WithContext(Context{Variant: "kms", Algorithm: scheme, Reason: reason}))
}
