package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildFrontendMessage(tag byte, body []byte) []byte {
	msg := make([]byte, 1+4+len(body))
	msg[0] = tag
	binary.BigEndian.PutUint32(msg[1:5], uint32(4+len(body)))
	copy(msg[5:], body)
	return msg
}

// driveDecoder feeds msg into dec one requested chunk at a time.
func driveDecoder(t *testing.T, dec *Decoder, msg []byte) (DecodeStatus, error) {
	t.Helper()
	status, err := dec.Next(nil)
	if err != nil {
		return status, err
	}
	offset := 0
	for !status.Done {
		chunk := msg[offset : offset+status.Requested]
		offset += status.Requested
		status, err = dec.Next(chunk)
		if err != nil {
			return status, err
		}
	}
	return status, nil
}

func TestDecodeQuery(t *testing.T) {
	body := append([]byte("select 1"), 0)
	msg := buildFrontendMessage(tagQuery, body)
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Message.Kind != CommandQuery || status.Message.SQL != "select 1" {
		t.Fatalf("got %+v", status.Message)
	}
}

func TestDecodeTerminate(t *testing.T) {
	msg := buildFrontendMessage(tagTerminate, nil)
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Message.Kind != CommandTerminate {
		t.Fatalf("got %+v", status.Message)
	}
}

func TestDecodeSync(t *testing.T) {
	msg := buildFrontendMessage(tagSync, nil)
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Message.Kind != CommandSync {
		t.Fatalf("got %+v", status.Message)
	}
}

func TestDecodeFlush(t *testing.T) {
	msg := buildFrontendMessage(tagFlush, nil)
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Message.Kind != CommandFlush {
		t.Fatalf("got %+v", status.Message)
	}
}

func TestDecodeParse(t *testing.T) {
	var body bytes.Buffer
	body.WriteString("stmt1")
	body.WriteByte(0)
	body.WriteString("select $1")
	body.WriteByte(0)
	binary.Write(&body, binary.BigEndian, int16(1))
	binary.Write(&body, binary.BigEndian, uint32(23)) // PgInteger OID

	msg := buildFrontendMessage(tagParse, body.Bytes())
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	m := status.Message
	if m.Kind != CommandParse || m.StatementName != "stmt1" || m.SQL != "select $1" {
		t.Fatalf("got %+v", m)
	}
	if len(m.ParamTypes) != 1 || !m.ParamTypes[0].Known || m.ParamTypes[0].Type != PgInteger {
		t.Fatalf("unexpected param types: %+v", m.ParamTypes)
	}
}

func TestDecodeParseUnspecifiedParamType(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(0) // empty statement name
	body.WriteString("select $1")
	body.WriteByte(0)
	binary.Write(&body, binary.BigEndian, int16(1))
	binary.Write(&body, binary.BigEndian, uint32(0)) // unspecified OID

	msg := buildFrontendMessage(tagParse, body.Bytes())
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	m := status.Message
	if len(m.ParamTypes) != 1 || m.ParamTypes[0].Known {
		t.Fatalf("expected unspecified param type, got %+v", m.ParamTypes)
	}
}

func TestDecodeBind(t *testing.T) {
	var body bytes.Buffer
	body.WriteString("portal1")
	body.WriteByte(0)
	body.WriteString("stmt1")
	body.WriteByte(0)
	binary.Write(&body, binary.BigEndian, int16(1))
	binary.Write(&body, binary.BigEndian, int16(FormatText))
	binary.Write(&body, binary.BigEndian, int16(1))
	binary.Write(&body, binary.BigEndian, int32(len("42")))
	body.WriteString("42")
	binary.Write(&body, binary.BigEndian, int16(1))
	binary.Write(&body, binary.BigEndian, int16(FormatText))

	msg := buildFrontendMessage(tagBind, body.Bytes())
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	m := status.Message
	if m.Kind != CommandBind || m.PortalName != "portal1" || m.StatementName != "stmt1" {
		t.Fatalf("got %+v", m)
	}
	if len(m.RawParams) != 1 || string(m.RawParams[0]) != "42" {
		t.Fatalf("unexpected params: %+v", m.RawParams)
	}
}

func TestDecodeBindNullParam(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(0) // portal
	body.WriteByte(0) // statement
	binary.Write(&body, binary.BigEndian, int16(0))
	binary.Write(&body, binary.BigEndian, int16(1))
	binary.Write(&body, binary.BigEndian, int32(-1)) // NULL
	binary.Write(&body, binary.BigEndian, int16(0))

	msg := buildFrontendMessage(tagBind, body.Bytes())
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Message.RawParams[0] != nil {
		t.Fatalf("expected nil param for NULL, got %v", status.Message.RawParams[0])
	}
}

func TestDecodeDescribeStatement(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(describeOrCloseStatement)
	body.WriteString("stmt1")
	body.WriteByte(0)

	msg := buildFrontendMessage(tagDescribe, body.Bytes())
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Message.Kind != CommandDescribeStatement || status.Message.Name != "stmt1" {
		t.Fatalf("got %+v", status.Message)
	}
}

func TestDecodeClosePortal(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(describeOrClosePortal)
	body.WriteString("portal1")
	body.WriteByte(0)

	msg := buildFrontendMessage(tagClose, body.Bytes())
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Message.Kind != CommandClosePortal || status.Message.Name != "portal1" {
		t.Fatalf("got %+v", status.Message)
	}
}

func TestDecodeExecute(t *testing.T) {
	var body bytes.Buffer
	body.WriteString("portal1")
	body.WriteByte(0)
	binary.Write(&body, binary.BigEndian, int32(10))

	msg := buildFrontendMessage(tagExecute, body.Bytes())
	dec := NewDecoder()
	status, err := driveDecoder(t, dec, msg)
	if err != nil {
		t.Fatal(err)
	}
	if status.Message.Kind != CommandExecute || status.Message.Name != "portal1" || status.Message.MaxRows != 10 {
		t.Fatalf("got %+v", status.Message)
	}
}

func TestDecodeUnsupportedTag(t *testing.T) {
	msg := buildFrontendMessage('Z', nil)
	dec := NewDecoder()
	if _, err := driveDecoder(t, dec, msg); err == nil {
		t.Fatal("expected error for unsupported frontend tag")
	}
}

func TestDecoderResumesAcrossCalls(t *testing.T) {
	body := append([]byte("select 1"), 0)
	msg := buildFrontendMessage(tagQuery, body)
	dec := NewDecoder()

	status, err := dec.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if status.Done {
		t.Fatal("expected RequestingBytes, not Done, on first call")
	}
	// Each call supplies exactly the requested number of bytes, split
	// across the tag/length/body stages rather than as one chunk.
	offset := 0
	for !status.Done {
		n := status.Requested
		status, err = dec.Next(msg[offset : offset+n])
		if err != nil {
			t.Fatal(err)
		}
		offset += n
	}
	if status.Message.SQL != "select 1" {
		t.Fatalf("got %+v", status.Message)
	}
}
