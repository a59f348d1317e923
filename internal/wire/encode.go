package wire

import "encoding/binary"

// Encode renders m to its exact wire byte layout (spec.md §4.3), tag
// byte included where the message has one. AuthenticationOk,
// AuthenticationCleartextPassword and ReadyForQuery are the fixed-shape
// byte sequences the original implementation hard-codes; every other
// message, AuthenticationMD5Password included, is built from its fields
// with a length prefix computed over the body plus itself.
func (m BackendMessage) Encode() []byte {
	switch m.Kind {
	case BackendNoticeResponse:
		return framed(tagNoticeResponse, nil)

	case BackendAuthenticationCleartextPassword:
		return []byte{tagAuthentication, 0, 0, 0, 8, 0, 0, 0, 3}

	case BackendAuthenticationMD5Password:
		body := []byte{0, 0, 0, 5, m.MD5Salt[0], m.MD5Salt[1], m.MD5Salt[2], m.MD5Salt[3]}
		return framed(tagAuthentication, body)

	case BackendAuthenticationOk:
		return []byte{tagAuthentication, 0, 0, 0, 8, 0, 0, 0, 0}

	case BackendKeyData:
		body := make([]byte, 8)
		binary.BigEndian.PutUint32(body[0:4], uint32(m.ConnID))
		binary.BigEndian.PutUint32(body[4:8], uint32(m.SecretKey))
		return framed(tagBackendKeyData, body)

	case BackendReadyForQuery:
		return []byte{tagReadyForQuery, 0, 0, 0, 5, transactionStatusIdle}

	case BackendDataRow:
		return framed(tagDataRow, encodeDataRowBody(m.Row))

	case BackendRowDescription:
		return framed(tagRowDescription, encodeRowDescriptionBody(m.Columns))

	case BackendCommandComplete:
		return framed(tagCommandComplete, appendCStr(nil, m.CommandTag))

	case BackendEmptyQueryResponse:
		return framed(tagEmptyQueryResponse, nil)

	case BackendErrorResponse:
		return framed(tagErrorResponse, encodeFieldsBody(m))

	case BackendParameterStatus:
		body := appendCStr(nil, m.ParamName)
		body = appendCStr(body, m.ParamValue)
		return framed(tagParameterStatus, body)

	case BackendParameterDescription:
		body := make([]byte, 2, 2+4*len(m.ParamTypes))
		binary.BigEndian.PutUint16(body, uint16(len(m.ParamTypes)))
		for _, t := range m.ParamTypes {
			body = appendU32(body, t.TypeOID())
		}
		return framed(tagParameterDescription, body)

	case BackendNoData:
		return framed(tagNoData, nil)

	case BackendParseComplete:
		return framed(tagParseComplete, nil)

	case BackendBindComplete:
		return framed(tagBindComplete, nil)

	case BackendCloseComplete:
		return framed(tagCloseComplete, nil)

	default:
		return nil
	}
}

// framed prefixes body with tag and a big-endian length covering the
// length field itself plus body (spec.md's universal backend framing).
func framed(tag byte, body []byte) []byte {
	out := make([]byte, 1+4+len(body))
	out[0] = tag
	binary.BigEndian.PutUint32(out[1:5], uint32(4+len(body)))
	copy(out[5:], body)
	return out
}

func appendCStr(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendI16(dst []byte, v int16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return append(dst, b[:]...)
}

func appendI32(dst []byte, v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(dst, b[:]...)
}

func encodeDataRowBody(row []string) []byte {
	body := appendI16(nil, int16(len(row)))
	for _, field := range row {
		body = appendI32(body, int32(len(field)))
		body = append(body, field...)
	}
	return body
}

func encodeRowDescriptionBody(columns []ColumnMetadata) []byte {
	body := appendI16(nil, int16(len(columns)))
	for _, col := range columns {
		body = appendCStr(body, col.Name)
		body = appendU32(body, 0) // table OID: no catalog integration
		body = appendI16(body, 0) // column attribute number
		body = appendU32(body, col.TypeOID)
		body = appendI16(body, col.TypeSize)
		body = appendI32(body, -1) // type modifier
		body = appendI16(body, int16(FormatText))
	}
	return body
}

// errorField tags match the protocol's ErrorResponse/NoticeResponse field
// identifiers.
const (
	errorFieldSeverity byte = 'S'
	errorFieldCode     byte = 'C'
	errorFieldMessage  byte = 'M'
)

func encodeFieldsBody(m BackendMessage) []byte {
	var body []byte
	if m.HasSeverity {
		body = append(body, errorFieldSeverity)
		body = appendCStr(body, m.Severity)
	}
	if m.HasCode {
		body = append(body, errorFieldCode)
		body = appendCStr(body, m.Code)
	}
	if m.HasMessage {
		body = append(body, errorFieldMessage)
		body = appendCStr(body, m.Message)
	}
	return append(body, 0)
}
