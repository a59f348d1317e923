package wire

import (
	"encoding/binary"
	"testing"
)

func buildSetupMessage(code RequestCode, rest []byte) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(code))
	body = append(body, rest...)
	msg := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(msg, uint32(4+len(body)))
	copy(msg[4:], body)
	return msg
}

func buildStartupParams(pairs ...[2]string) []byte {
	var b []byte
	for _, p := range pairs {
		b = append(b, p[0]...)
		b = append(b, 0)
		b = append(b, p[1]...)
		b = append(b, 0)
	}
	return append(b, 0)
}

// driveHandShake feeds msg into h one requested chunk at a time, like a
// real caller would off a socket, and stops once msg is used up.
func driveHandShake(t *testing.T, h *HandShake, msg []byte) (HandShakeStatus, error) {
	t.Helper()
	status, err := h.Next(nil)
	if err != nil {
		return status, err
	}
	offset := 0
	for status.Kind == HandShakeRequestingBytes && offset < len(msg) {
		chunk := msg[offset : offset+status.Requested]
		offset += status.Requested
		status, err = h.Next(chunk)
		if err != nil {
			return status, err
		}
	}
	return status, nil
}

func TestHandShakeNonSecureConnection(t *testing.T) {
	h := NewHandShake(true)
	params := buildStartupParams([2]string{"user", "root"}, [2]string{"database", "test"})
	msg := buildSetupMessage(RequestCodeVersion3, params)

	status, err := driveHandShake(t, h, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != HandShakeDone {
		t.Fatalf("status.Kind = %v, want HandShakeDone", status.Kind)
	}
	if len(status.Params) != 2 || status.Params[0].Name != "user" || status.Params[0].Value != "root" {
		t.Fatalf("unexpected params: %+v", status.Params)
	}
}

func TestHandShakeSSLThenSetup(t *testing.T) {
	h := NewHandShake(true)
	sslMsg := buildSetupMessage(RequestCodeSSL, nil)

	status, err := driveHandShake(t, h, sslMsg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != HandShakeUpgradeToSecure {
		t.Fatalf("status.Kind = %v, want HandShakeUpgradeToSecure", status.Kind)
	}

	params := buildStartupParams([2]string{"user", "root"})
	msg := buildSetupMessage(RequestCodeVersion3, params)
	status, err = driveHandShake(t, h, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != HandShakeDone {
		t.Fatalf("status.Kind = %v, want HandShakeDone", status.Kind)
	}
}

func TestHandShakeSSLUnsupportedFallsBackToPlaintext(t *testing.T) {
	h := NewHandShake(false)
	sslMsg := buildSetupMessage(RequestCodeSSL, nil)

	status, err := driveHandShake(t, h, sslMsg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != HandShakeRequestingBytes {
		t.Fatalf("status.Kind = %v, want HandShakeRequestingBytes (reject+continue)", status.Kind)
	}

	params := buildStartupParams([2]string{"user", "root"})
	msg := buildSetupMessage(RequestCodeVersion3, params)
	status, err = driveHandShake(t, h, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != HandShakeDone {
		t.Fatalf("status.Kind = %v, want HandShakeDone", status.Kind)
	}
}

func TestHandShakeNotSupportedVersion(t *testing.T) {
	h := NewHandShake(true)
	msg := buildSetupMessage(RequestCodeVersion2, nil)
	_, err := driveHandShake(t, h, msg)
	if err == nil {
		t.Fatal("expected error for unsupported protocol version")
	}
	var hsErr *HandShakeError
	if !asHandShakeError(err, &hsErr) || hsErr.Kind != HandShakeUnsupportedProtocolVersion {
		t.Fatalf("err = %v, want HandShakeUnsupportedProtocolVersion", err)
	}
}

func TestHandShakeNotSupportedClientRequest(t *testing.T) {
	h := NewHandShake(true)
	msg := buildSetupMessage(RequestCode(0xdeadbeef), nil)
	_, err := driveHandShake(t, h, msg)
	if err == nil {
		t.Fatal("expected error for unsupported client request")
	}
}

func TestHandShakeGSSEncRequestIsUnsupported(t *testing.T) {
	h := NewHandShake(true)
	msg := buildSetupMessage(RequestCodeGSSEnc, nil)
	_, err := driveHandShake(t, h, msg)
	if err == nil {
		t.Fatal("expected error for GSSAPI encryption request")
	}
	var hsErr *HandShakeError
	if !asHandShakeError(err, &hsErr) || hsErr.Kind != HandShakeUnsupportedClientRequest {
		t.Fatalf("err = %v, want HandShakeUnsupportedClientRequest", err)
	}
}

func TestHandShakeCancelQueryRequest(t *testing.T) {
	h := NewHandShake(true)
	rest := make([]byte, 8)
	binary.BigEndian.PutUint32(rest[0:4], 42)
	binary.BigEndian.PutUint32(rest[4:8], 99)
	msg := buildSetupMessage(RequestCodeCancel, rest)

	status, err := driveHandShake(t, h, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != HandShakeCancel {
		t.Fatalf("status.Kind = %v, want HandShakeCancel", status.Kind)
	}
	if status.TargetConnID != 42 || status.TargetSecret != 99 {
		t.Fatalf("got conn=%d secret=%d, want 42, 99", status.TargetConnID, status.TargetSecret)
	}
}

func TestHandShakeDuplicateSSLRequest(t *testing.T) {
	h := NewHandShake(true)
	sslMsg := buildSetupMessage(RequestCodeSSL, nil)
	if _, err := driveHandShake(t, h, sslMsg); err != nil {
		t.Fatal(err)
	}
	if _, err := driveHandShake(t, h, sslMsg); err == nil {
		t.Fatal("expected error for duplicate SSL request")
	}
}

func TestHandShakeRequestsLengthThenBody(t *testing.T) {
	h := NewHandShake(true)
	status, err := h.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != HandShakeRequestingBytes || status.Requested != 4 {
		t.Fatalf("first status = %+v, want RequestingBytes(4)", status)
	}
}

func asHandShakeError(err error, target **HandShakeError) bool {
	if e, ok := err.(*HandShakeError); ok {
		*target = e
		return true
	}
	return false
}
