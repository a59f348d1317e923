package wire

// DecodeStage is the internal stage of the Decoder state machine.
type DecodeStage int

const (
	stageRequestingTag DecodeStage = iota
	stageRequestingLength
	stageWaitingPayload
)

// DecodeStatus is returned by Decoder.Next. Exactly one of the two shapes
// is meaningful: check Done first.
//
//	for {
//	    status, err := dec.Next(chunk)
//	    if err != nil {
//	        return err
//	    }
//	    if status.Done {
//	        handle(status.Message)
//	        break
//	    }
//	    chunk = readExactly(status.Requested)
//	}
type DecodeStatus struct {
	Done      bool
	Message   CommandMessage
	Requested int
}

func requestingBytes(n int) DecodeStatus { return DecodeStatus{Requested: n} }

func decodedMessage(m CommandMessage) DecodeStatus { return DecodeStatus{Done: true, Message: m} }

// Decoder is the resumable frontend message decoder (spec.md C4). It never
// performs I/O: the caller owns the read loop, feeding back exactly the
// number of bytes the previous DecodeStatus requested. This mirrors the
// original's MessageDecoder, which is driven the same way one chunk at a
// time so a server can multiplex many connections without a read thread
// per connection.
type Decoder struct {
	stage   DecodeStage
	tag     byte
	bodyLen int
}

// NewDecoder returns a Decoder ready to receive a message tag.
func NewDecoder() *Decoder {
	return &Decoder{stage: stageRequestingTag}
}

// Next advances the decoder with the bytes the previous call requested
// (ignored on the very first call, when input may be nil). It returns
// either a further byte request or a fully decoded CommandMessage.
func (d *Decoder) Next(input []byte) (DecodeStatus, error) {
	switch d.stage {
	case stageRequestingTag:
		if len(input) < 1 {
			return requestingBytes(1), nil
		}
		d.tag = input[0]
		if !isKnownFrontendTag(d.tag) {
			return DecodeStatus{}, &MessageFormatError{Kind: MessageFormatUnsupportedFrontendMessage, Tag: d.tag}
		}
		d.stage = stageRequestingLength
		return requestingBytes(4), nil

	case stageRequestingLength:
		if len(input) < 4 {
			return requestingBytes(4), nil
		}
		cur := NewCursor(input)
		length, err := cur.ReadI32()
		if err != nil {
			return DecodeStatus{}, &MessageFormatError{Kind: MessageFormatPayload, Payload: err}
		}
		// length includes itself (4 bytes) but not the tag.
		bodyLen := int(length) - 4
		if bodyLen < 0 {
			return DecodeStatus{}, &MessageFormatError{Kind: MessageFormatPayload, Payload: &PayloadError{Kind: PayloadNotEnoughBytes, Required: 4}}
		}
		d.bodyLen = bodyLen
		if bodyLen == 0 {
			msg, err := decodeBody(d.tag, nil)
			if err != nil {
				return DecodeStatus{}, err
			}
			d.stage = stageRequestingTag
			return decodedMessage(msg), nil
		}
		d.stage = stageWaitingPayload
		return requestingBytes(bodyLen), nil

	case stageWaitingPayload:
		if len(input) < d.bodyLen {
			return requestingBytes(d.bodyLen), nil
		}
		msg, err := decodeBody(d.tag, input[:d.bodyLen])
		if err != nil {
			return DecodeStatus{}, err
		}
		d.stage = stageRequestingTag
		return decodedMessage(msg), nil

	default:
		return DecodeStatus{}, &MessageFormatError{Kind: MessageFormatMissingTag}
	}
}

func isKnownFrontendTag(tag byte) bool {
	switch tag {
	case tagQuery, tagParse, tagBind, tagDescribe, tagExecute, tagFlush, tagSync, tagClose, tagTerminate, tagPassword:
		return true
	default:
		return false
	}
}

func decodeBody(tag byte, body []byte) (CommandMessage, error) {
	cur := NewCursor(body)
	switch tag {
	case tagQuery:
		sql, err := cur.ReadCStr()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		return CommandMessage{Kind: CommandQuery, SQL: sql}, nil

	case tagParse:
		name, err := cur.ReadCStr()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		sql, err := cur.ReadCStr()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		n, err := cur.ReadI16()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		types := make([]ParamType, 0, n)
		for i := int16(0); i < n; i++ {
			oid, err := cur.ReadU32()
			if err != nil {
				return CommandMessage{}, wrapPayload(err)
			}
			t, known, err := FromOID(oid)
			if err != nil {
				return CommandMessage{}, &MessageFormatError{Kind: MessageFormatNotSupportedOid, OID: oid}
			}
			types = append(types, ParamType{Known: known, Type: t})
		}
		return CommandMessage{Kind: CommandParse, StatementName: name, SQL: sql, ParamTypes: types}, nil

	case tagBind:
		return decodeBind(cur)

	case tagDescribe:
		kind, name, err := decodeDescribeOrClose(cur)
		if err != nil {
			return CommandMessage{}, err
		}
		if kind == describeOrCloseStatement {
			return CommandMessage{Kind: CommandDescribeStatement, Name: name}, nil
		}
		return CommandMessage{Kind: CommandDescribePortal, Name: name}, nil

	case tagExecute:
		name, err := cur.ReadCStr()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		maxRows, err := cur.ReadI32()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		return CommandMessage{Kind: CommandExecute, Name: name, MaxRows: maxRows}, nil

	case tagFlush:
		return CommandMessage{Kind: CommandFlush}, nil

	case tagSync:
		return CommandMessage{Kind: CommandSync}, nil

	case tagClose:
		kind, name, err := decodeDescribeOrClose(cur)
		if err != nil {
			return CommandMessage{}, err
		}
		if kind == describeOrCloseStatement {
			return CommandMessage{Kind: CommandCloseStatement, Name: name}, nil
		}
		return CommandMessage{Kind: CommandClosePortal, Name: name}, nil

	case tagTerminate:
		return CommandMessage{Kind: CommandTerminate}, nil

	default:
		return CommandMessage{}, &MessageFormatError{Kind: MessageFormatUnsupportedFrontendMessage, Tag: tag}
	}
}

func decodeDescribeOrClose(cur Cursor) (byte, string, error) {
	kind, err := cur.ReadByte()
	if err != nil {
		return 0, "", wrapPayload(err)
	}
	if kind != describeOrCloseStatement && kind != describeOrClosePortal {
		return 0, "", &MessageFormatError{Kind: MessageFormatInvalidTypeByte, Tag: kind}
	}
	name, err := cur.ReadCStr()
	if err != nil {
		return 0, "", wrapPayload(err)
	}
	return kind, name, nil
}

func decodeBind(cur Cursor) (CommandMessage, error) {
	portal, err := cur.ReadCStr()
	if err != nil {
		return CommandMessage{}, wrapPayload(err)
	}
	statement, err := cur.ReadCStr()
	if err != nil {
		return CommandMessage{}, wrapPayload(err)
	}

	numFormats, err := cur.ReadI16()
	if err != nil {
		return CommandMessage{}, wrapPayload(err)
	}
	paramFormats := make([]PgFormat, numFormats)
	for i := range paramFormats {
		code, err := cur.ReadI16()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		f, err := ParseFormat(code)
		if err != nil {
			return CommandMessage{}, err
		}
		paramFormats[i] = f
	}

	numParams, err := cur.ReadI16()
	if err != nil {
		return CommandMessage{}, wrapPayload(err)
	}
	rawParams := make([][]byte, numParams)
	for i := range rawParams {
		length, err := cur.ReadI32()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		if length < 0 {
			rawParams[i] = nil // SQL NULL
			continue
		}
		b, err := cur.ReadBytes(int(length))
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		rawParams[i] = cp
	}

	numResultFormats, err := cur.ReadI16()
	if err != nil {
		return CommandMessage{}, wrapPayload(err)
	}
	resultFormats := make([]PgFormat, numResultFormats)
	for i := range resultFormats {
		code, err := cur.ReadI16()
		if err != nil {
			return CommandMessage{}, wrapPayload(err)
		}
		f, err := ParseFormat(code)
		if err != nil {
			return CommandMessage{}, err
		}
		resultFormats[i] = f
	}

	return CommandMessage{
		Kind:          CommandBind,
		PortalName:    portal,
		StatementName: statement,
		ParamFormats:  paramFormats,
		RawParams:     rawParams,
		ResultFormats: resultFormats,
	}, nil
}

func wrapPayload(err error) error {
	return &MessageFormatError{Kind: MessageFormatPayload, Payload: err}
}
