package wire

// Frontend message tags (spec.md §4.4).
const (
	tagQuery       byte = 'Q'
	tagParse       byte = 'P'
	tagBind        byte = 'B'
	tagDescribe    byte = 'D'
	tagExecute     byte = 'E'
	tagFlush       byte = 'H'
	tagSync        byte = 'S'
	tagClose       byte = 'C'
	tagTerminate   byte = 'X'
	tagPassword    byte = 'p'
	describeOrCloseStatement byte = 'S'
	describeOrClosePortal    byte = 'P'
)

// Backend message tags (spec.md §4.3).
const (
	tagAuthentication       byte = 'R'
	tagBackendKeyData       byte = 'K'
	tagReadyForQuery        byte = 'Z'
	tagDataRow              byte = 'D'
	tagRowDescription       byte = 'T'
	tagCommandComplete      byte = 'C'
	tagEmptyQueryResponse   byte = 'I'
	tagErrorResponse        byte = 'E'
	tagNoticeResponse       byte = 'N'
	tagParameterStatus      byte = 'S'
	tagParameterDescription byte = 't'
	tagNoData               byte = 'n'
	tagParseComplete        byte = '1'
	tagBindComplete         byte = '2'
	tagCloseComplete        byte = '3'
)

// ReadyForQuery transaction status byte used in the backend message body.
const transactionStatusIdle byte = 'I'

// CommandKind discriminates the CommandMessage sum type decoded by C4.
type CommandKind int

const (
	CommandQuery CommandKind = iota
	CommandParse
	CommandBind
	CommandDescribeStatement
	CommandDescribePortal
	CommandExecute
	CommandFlush
	CommandSync
	CommandCloseStatement
	CommandClosePortal
	CommandTerminate
)

// ParamType is an optional PgType: a Parse message's parameter list may
// declare OID 0 ("unspecified"), represented here with Known=false.
type ParamType struct {
	Known bool
	Type  PgType
}

// CommandMessage is a decoded frontend command message (spec.md §3's
// "Frontend command message" sum). Only the fields relevant to Kind are
// populated.
type CommandMessage struct {
	Kind CommandKind

	// Query
	SQL string

	// Parse
	StatementName string
	ParamTypes    []ParamType

	// Bind
	PortalName    string
	ParamFormats  []PgFormat
	RawParams     [][]byte // nil entry means SQL NULL
	ResultFormats []PgFormat

	// Describe / Close share Name with Statement/Portal semantics picked
	// by Kind.
	Name string

	// Execute
	MaxRows int32
}

// ColumnMetadata describes one result column for a RowDescription
// message. Table OID, attribute number and result format are written as
// zero and the type modifier as -1 at encode time; there is no catalog
// integration in this engine.
type ColumnMetadata struct {
	Name     string
	TypeOID  uint32
	TypeSize int16
}

// NewColumnMetadata builds ColumnMetadata for a result column of the
// given PgType.
func NewColumnMetadata(name string, t PgType) ColumnMetadata {
	return ColumnMetadata{Name: name, TypeOID: t.TypeOID(), TypeSize: t.TypeLen()}
}

// BackendMessageKind discriminates the BackendMessage sum type encoded
// by C3.
type BackendMessageKind int

const (
	BackendNoticeResponse BackendMessageKind = iota
	BackendAuthenticationCleartextPassword
	BackendAuthenticationMD5Password
	BackendAuthenticationOk
	BackendKeyData
	BackendReadyForQuery
	BackendDataRow
	BackendRowDescription
	BackendCommandComplete
	BackendEmptyQueryResponse
	BackendErrorResponse
	BackendParameterStatus
	BackendParameterDescription
	BackendNoData
	BackendParseComplete
	BackendBindComplete
	BackendCloseComplete
)

// BackendMessage is a backend message to be framed and sent to the
// client (spec.md §3's "Backend message" sum). Only the fields relevant
// to Kind are populated.
type BackendMessage struct {
	Kind BackendMessageKind

	ConnID    ConnID
	SecretKey SecretKey

	Row         []string // DataRow: nil entries are not supported at this layer; use "" for empty string
	Columns     []ColumnMetadata
	CommandTag  string
	Severity    string
	Code        string
	Message     string
	HasSeverity bool
	HasCode     bool
	HasMessage  bool
	ParamName   string
	ParamValue  string
	ParamTypes  []PgType

	// MD5Salt is the 4-byte salt sent with AuthenticationMD5Password.
	// Not security critical: this engine never completes an MD5
	// authentication flow (spec.md §1 Non-goals), the encoding exists
	// only so the message type is total.
	MD5Salt [4]byte
}

// Constructors mirror the sum's variants one-to-one so call sites read
// like the spec's grammar instead of poking at zero-valued fields.

func NoticeResponse() BackendMessage { return BackendMessage{Kind: BackendNoticeResponse} }

func AuthenticationCleartextPassword() BackendMessage {
	return BackendMessage{Kind: BackendAuthenticationCleartextPassword}
}

func AuthenticationMD5Password(salt [4]byte) BackendMessage {
	return BackendMessage{Kind: BackendAuthenticationMD5Password, MD5Salt: salt}
}

func AuthenticationOk() BackendMessage { return BackendMessage{Kind: BackendAuthenticationOk} }

func BackendKeyDataMessage(id ConnID, secret SecretKey) BackendMessage {
	return BackendMessage{Kind: BackendKeyData, ConnID: id, SecretKey: secret}
}

func ReadyForQuery() BackendMessage { return BackendMessage{Kind: BackendReadyForQuery} }

func DataRow(row []string) BackendMessage { return BackendMessage{Kind: BackendDataRow, Row: row} }

func RowDescription(columns []ColumnMetadata) BackendMessage {
	return BackendMessage{Kind: BackendRowDescription, Columns: columns}
}

func CommandComplete(tag string) BackendMessage {
	return BackendMessage{Kind: BackendCommandComplete, CommandTag: tag}
}

func EmptyQueryResponse() BackendMessage { return BackendMessage{Kind: BackendEmptyQueryResponse} }

// ErrorResponse builds an ErrorResponse message. Any of severity, code,
// message may be empty to omit that field from the wire encoding.
func ErrorResponse(severity, code, message string) BackendMessage {
	return BackendMessage{
		Kind:        BackendErrorResponse,
		Severity:    severity,
		HasSeverity: severity != "",
		Code:        code,
		HasCode:     code != "",
		Message:     message,
		HasMessage:  message != "",
	}
}

func ParameterStatus(name, value string) BackendMessage {
	return BackendMessage{Kind: BackendParameterStatus, ParamName: name, ParamValue: value}
}

func ParameterDescription(types []PgType) BackendMessage {
	return BackendMessage{Kind: BackendParameterDescription, ParamTypes: types}
}

func NoData() BackendMessage         { return BackendMessage{Kind: BackendNoData} }
func ParseComplete() BackendMessage  { return BackendMessage{Kind: BackendParseComplete} }
func BindComplete() BackendMessage   { return BackendMessage{Kind: BackendBindComplete} }
func CloseComplete() BackendMessage  { return BackendMessage{Kind: BackendCloseComplete} }
