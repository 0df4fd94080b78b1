// Package message defines the JSON messages exchanged between rendezvous
// clients and the relay, and their canonical encoding.
//
// A message is a JSON object with four fields:
//
//  {"subject": str, "sender": str, "receiver": str|absent, "body": any}
//
// The body is opaque to the relay. Copies published on the message bus use a
// canonical encoding, with keys sorted at every depth and no whitespace, so
// that consumers can re-parse or hash them reliably. Number literals in a
// decoded body are re-encoded exactly as received.
package message

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/ugorji/go/codec"
)

var jsonHandle = newJSONHandle()

func newJSONHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	jh.MapType = reflect.TypeOf(map[string]interface{}(nil))
	jh.Raw = true
	return jh
}

// Message is a decoded rendezvous message. An empty Receiver means the field
// is absent. A nil Body is omitted from the encoding.
//
// Decode keeps a second copy of the body with its number literals intact, and
// Encode writes that copy. Messages that are modified before being encoded
// again should be rebuilt with New.
type Message struct {
	Subject  Subject
	Sender   string
	Receiver string
	Body     interface{}

	literalBody interface{}
}

type wireMessage struct {
	Subject  string      `codec:"subject"`
	Sender   string      `codec:"sender"`
	Receiver string      `codec:"receiver"`
	Body     interface{} `codec:"body"`
}

// New creates a Message.
func New(subject Subject, sender, receiver string, body interface{}) *Message {
	return &Message{
		Subject:  subject,
		Sender:   sender,
		Receiver: receiver,
		Body:     body,
	}
}

// Decode parses a raw JSON frame. Undecodable JSON and unknown subjects are
// reported as ProtocolViolation errors. Decode does not check which fields
// the subject requires; see Validate.
func Decode(data []byte) (*Message, error) {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, common.NewRelayErr(common.ProtocolViolation, "", "frame is not a JSON object")
	}

	var wm wireMessage

	dec := codec.NewDecoderBytes(data, jsonHandle)
	if err := dec.Decode(&wm); err != nil {
		return nil, common.WrapRelayErr(common.ProtocolViolation, "", err)
	}

	subject, err := ParseSubject(wm.Subject)
	if err != nil {
		return nil, err
	}

	m := &Message{
		Subject:  subject,
		Sender:   wm.Sender,
		Receiver: wm.Receiver,
		Body:     wm.Body,
	}

	if wm.Body != nil {
		if m.literalBody, err = decodeLiteralBody(data); err != nil {
			return nil, common.WrapRelayErr(common.ProtocolViolation, "", err)
		}
	}

	return m, nil
}

// decodeLiteralBody decodes the body of a frame with every number kept as
// its original literal, in a form the canonical encoder writes verbatim.
func decodeLiteralBody(data []byte) (interface{}, error) {
	var envelope struct {
		Body interface{} `json:"body"`
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, err
	}

	return rawNumbers(envelope.Body), nil
}

func rawNumbers(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		return codec.Raw(x)
	case map[string]interface{}:
		for k, e := range x {
			x[k] = rawNumbers(e)
		}
	case []interface{}:
		for i, e := range x {
			x[i] = rawNumbers(e)
		}
	}
	return v
}

// Encode returns the canonical JSON encoding of the message.
func Encode(m *Message) ([]byte, error) {
	if m.Subject.String() == "unknown" {
		return nil, common.NewRelayErr(common.ProtocolViolation, "", "cannot encode unknown subject")
	}

	obj := map[string]interface{}{
		"subject": m.Subject.String(),
		"sender":  m.Sender,
	}
	if m.Receiver != "" {
		obj["receiver"] = m.Receiver
	}
	if m.literalBody != nil {
		obj["body"] = m.literalBody
	} else if m.Body != nil {
		obj["body"] = m.Body
	}

	var b []byte
	enc := codec.NewEncoderBytes(&b, jsonHandle)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}

	return b, nil
}

// Validate checks that the fields required by the message's subject are
// present.
func (m *Message) Validate() error {
	if m.Sender == "" {
		return common.NewRelayErr(common.ProtocolViolation, "", m.Subject.String()+" without sender")
	}

	switch m.Subject {
	case Introduction:
		return nil
	case ConnectionNegotiation, PeerUpdate, Rejection, RoleUpdate:
		if m.Receiver == "" {
			return common.NewRelayErr(common.ProtocolViolation, "", m.Subject.String()+" without receiver")
		}
		return nil
	default:
		return common.NewRelayErr(common.ProtocolViolation, "", "unknown subject")
	}
}
