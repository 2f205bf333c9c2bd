package messages

// Request message tags
const (
	InitMessageSignature       = 0x01
	HelloMessageSignature      = 0x01
	GoodbyeMessageSignature    = 0x02
	AckFailureMessageSignature = 0x0E
	ResetMessageSignature      = 0x0F
	RunMessageSignature        = 0x10
	DiscardAllMessageSignature = 0x2F
	PullAllMessageSignature    = 0x3F
)

// InitMessage authenticates a protocol 1 or 2 session
type InitMessage struct {
	UserAgent string
	AuthToken map[string]interface{}
}

// NewInitMessage builds an INIT carrying the client name and auth token
func NewInitMessage(userAgent string, authToken map[string]interface{}) InitMessage {
	return InitMessage{UserAgent: userAgent, AuthToken: authToken}
}

func (m InitMessage) Signature() int {
	return InitMessageSignature
}

func (m InitMessage) AllFields() []interface{} {
	return []interface{}{m.UserAgent, m.AuthToken}
}

// HelloMessage authenticates a protocol 3 session. The user agent travels
// inside the same map as the auth token.
type HelloMessage struct {
	Extra map[string]interface{}
}

// NewHelloMessage merges the user agent into a copy of the auth token
func NewHelloMessage(userAgent string, authToken map[string]interface{}) HelloMessage {
	extra := make(map[string]interface{}, len(authToken)+1)
	for k, v := range authToken {
		extra[k] = v
	}
	extra["user_agent"] = userAgent
	return HelloMessage{Extra: extra}
}

func (m HelloMessage) Signature() int {
	return HelloMessageSignature
}

func (m HelloMessage) AllFields() []interface{} {
	return []interface{}{m.Extra}
}

// RunMessage submits a statement. Metadata is only sent on protocol 3, where
// the server expects a third field.
type RunMessage struct {
	Statement  string
	Parameters map[string]interface{}
	Metadata   map[string]interface{}
}

// NewRunMessage builds a protocol 1/2 RUN
func NewRunMessage(statement string, parameters map[string]interface{}) RunMessage {
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	return RunMessage{Statement: statement, Parameters: parameters}
}

// NewRunMessageV3 builds a RUN with the metadata field protocol 3 requires
func NewRunMessageV3(statement string, parameters, metadata map[string]interface{}) RunMessage {
	m := NewRunMessage(statement, parameters)
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	m.Metadata = metadata
	return m
}

func (m RunMessage) Signature() int {
	return RunMessageSignature
}

func (m RunMessage) AllFields() []interface{} {
	if m.Metadata != nil {
		return []interface{}{m.Statement, m.Parameters, m.Metadata}
	}
	return []interface{}{m.Statement, m.Parameters}
}

// emptyMessage is a request with a tag and no fields
type emptyMessage byte

func (m emptyMessage) Signature() int {
	return int(m)
}

func (m emptyMessage) AllFields() []interface{} {
	return []interface{}{}
}

// Field-less requests
var (
	DiscardAll = emptyMessage(DiscardAllMessageSignature)
	PullAll    = emptyMessage(PullAllMessageSignature)
	Reset      = emptyMessage(ResetMessageSignature)
	AckFailure = emptyMessage(AckFailureMessageSignature)
	Goodbye    = emptyMessage(GoodbyeMessageSignature)
)
