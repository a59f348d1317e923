package wire

import "strings"

// HandShakeStage is the internal stage of the HandShake state machine.
type HandShakeStage int

const (
	stageReadingSetupLength HandShakeStage = iota
	stageReadingSetupBody
)

// HandShakeResultKind discriminates the terminal or intermediate outcome
// of one HandShake.Next call.
type HandShakeResultKind int

const (
	HandShakeRequestingBytes HandShakeResultKind = iota
	HandShakeUpgradeToSecure
	HandShakeCancel
	HandShakeDone
)

// HandShakeStatus is returned by HandShake.Next.
type HandShakeStatus struct {
	Kind      HandShakeResultKind
	Requested int

	// HandShakeCancel
	TargetConnID ConnID
	TargetSecret SecretKey

	// HandShakeDone
	Params []Parameter
}

// HandShake drives the startup-message negotiation: SSL request loop,
// protocol version check and parameter parsing, or a cancel request. It
// performs no I/O; like Decoder, the caller supplies exactly the bytes
// each HandShakeStatus requests (spec.md C5, grounded on the original's
// hand_shake::Process).
type HandShake struct {
	stage          HandShakeStage
	sslOffered     bool
	sslAccepted    bool
	sslSupport     bool
	pendingBodyLen int
}

// NewHandShake starts a handshake. sslSupport selects what Next does with
// an SSLRequest: if true it returns HandShakeUpgradeToSecure and the
// caller answers the client ('S' or 'N') before feeding the next length;
// if false the machine absorbs the request and returns
// HandShakeRequestingBytes(4) without reporting that one was seen, so the
// caller gets no cue to answer it. internal/server always passes true and
// makes the accept/reject decision itself.
func NewHandShake(sslSupport bool) *HandShake {
	return &HandShake{stage: stageReadingSetupLength, sslSupport: sslSupport}
}

// Next advances the machine with input bytes (ignored on the first call).
func (h *HandShake) Next(input []byte) (HandShakeStatus, error) {
	switch h.stage {
	case stageReadingSetupLength:
		if len(input) < 4 {
			return HandShakeStatus{Kind: HandShakeRequestingBytes, Requested: 4}, nil
		}
		cur := NewCursor(input)
		length, err := cur.ReadI32()
		if err != nil {
			return HandShakeStatus{}, &HandShakeError{Kind: HandShakePayload, Payload: err}
		}
		bodyLen := int(length) - 4
		if bodyLen < 4 {
			return HandShakeStatus{}, &HandShakeError{Kind: HandShakePayload, Payload: &PayloadError{Kind: PayloadNotEnoughBytes, Required: 4}}
		}
		h.stage = stageReadingSetupBody
		h.pendingBodyLen = bodyLen
		return HandShakeStatus{Kind: HandShakeRequestingBytes, Requested: bodyLen}, nil

	case stageReadingSetupBody:
		if len(input) < h.pendingBodyLen {
			return HandShakeStatus{Kind: HandShakeRequestingBytes, Requested: h.pendingBodyLen}, nil
		}
		return h.parseSetupBody(input[:h.pendingBodyLen])

	default:
		return HandShakeStatus{}, &HandShakeError{Kind: HandShakePayload}
	}
}

func (h *HandShake) parseSetupBody(body []byte) (HandShakeStatus, error) {
	cur := NewCursor(body)
	code, err := cur.ReadU32()
	if err != nil {
		return HandShakeStatus{}, &HandShakeError{Kind: HandShakePayload, Payload: err}
	}
	rc := RequestCode(code)

	switch rc {
	case RequestCodeSSL:
		if h.sslOffered {
			return HandShakeStatus{}, &HandShakeError{Kind: HandShakeDuplicateSSLRequest, Code: rc}
		}
		h.sslOffered = true
		if !h.sslSupport {
			// caller rejects and keeps driving this same machine for
			// the plaintext setup message that follows.
			h.stage = stageReadingSetupLength
			return HandShakeStatus{Kind: HandShakeRequestingBytes, Requested: 4}, nil
		}
		h.sslAccepted = true
		h.stage = stageReadingSetupLength
		return HandShakeStatus{Kind: HandShakeUpgradeToSecure}, nil

	case RequestCodeCancel:
		connID, err := cur.ReadI32()
		if err != nil {
			return HandShakeStatus{}, &HandShakeError{Kind: HandShakePayload, Payload: err}
		}
		secret, err := cur.ReadI32()
		if err != nil {
			return HandShakeStatus{}, &HandShakeError{Kind: HandShakePayload, Payload: err}
		}
		return HandShakeStatus{Kind: HandShakeCancel, TargetConnID: ConnID(connID), TargetSecret: SecretKey(secret)}, nil

	case RequestCodeVersion3:
		params, err := parseStartupParams(cur)
		if err != nil {
			return HandShakeStatus{}, err
		}
		return HandShakeStatus{Kind: HandShakeDone, Params: params}, nil

	case RequestCodeVersion1, RequestCodeVersion2:
		return HandShakeStatus{}, &HandShakeError{Kind: HandShakeUnsupportedProtocolVersion, Code: rc}

	default:
		return HandShakeStatus{}, &HandShakeError{Kind: HandShakeUnsupportedClientRequest, Code: rc}
	}
}

func parseStartupParams(cur Cursor) ([]Parameter, error) {
	var params []Parameter
	for {
		name, err := cur.ReadCStr()
		if err != nil {
			return nil, &HandShakeError{Kind: HandShakePayload, Payload: err}
		}
		if name == "" {
			return params, nil
		}
		value, err := cur.ReadCStr()
		if err != nil {
			return nil, &HandShakeError{Kind: HandShakePayload, Payload: err}
		}
		params = append(params, Parameter{Name: strings.TrimSpace(name), Value: value})
	}
}
