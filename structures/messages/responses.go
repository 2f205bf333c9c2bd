package messages

import "fmt"

// Response message tags
const (
	SuccessMessageSignature = 0x70
	RecordMessageSignature  = 0x71
	IgnoredMessageSignature = 0x7E
	FailureMessageSignature = 0x7F
)

// SuccessMessage ends a request that completed
type SuccessMessage struct {
	Metadata map[string]interface{}
}

// NewSuccessMessage Gets a new SuccessMessage struct
func NewSuccessMessage(metadata map[string]interface{}) SuccessMessage {
	return SuccessMessage{Metadata: metadata}
}

func (m SuccessMessage) Signature() int {
	return SuccessMessageSignature
}

func (m SuccessMessage) AllFields() []interface{} {
	return []interface{}{m.Metadata}
}

// FailureMessage ends a request the server rejected. Every request after it
// in the same pipeline is IGNORED until the session is reset.
type FailureMessage struct {
	Metadata map[string]interface{}
}

// NewFailureMessage Gets a new FailureMessage struct
func NewFailureMessage(metadata map[string]interface{}) FailureMessage {
	return FailureMessage{Metadata: metadata}
}

func (m FailureMessage) Signature() int {
	return FailureMessageSignature
}

func (m FailureMessage) AllFields() []interface{} {
	return []interface{}{m.Metadata}
}

// Code is the server's status code, e.g. Neo.ClientError.Security.Unauthorized
func (m FailureMessage) Code() string {
	code, _ := m.Metadata["code"].(string)
	return code
}

// Message is the human readable failure description
func (m FailureMessage) Message() string {
	msg, _ := m.Metadata["message"].(string)
	return msg
}

func (m FailureMessage) String() string {
	return fmt.Sprintf("%s: %s", m.Code(), m.Message())
}

// RecordMessage is one row of a result stream
type RecordMessage struct {
	Fields []interface{}
}

// NewRecordMessage Gets a new RecordMessage struct
func NewRecordMessage(fields []interface{}) RecordMessage {
	return RecordMessage{Fields: fields}
}

func (m RecordMessage) Signature() int {
	return RecordMessageSignature
}

func (m RecordMessage) AllFields() []interface{} {
	return []interface{}{m.Fields}
}

// IgnoredMessage answers a request the server skipped after a failure
type IgnoredMessage struct{}

func (m IgnoredMessage) Signature() int {
	return IgnoredMessageSignature
}

func (m IgnoredMessage) AllFields() []interface{} {
	return []interface{}{}
}
