package schemas

import (
	encjson "encoding/json"
	"fmt"
)

// MessageType identifies a bridge envelope.
type MessageType string

const (
	// MessageBuild carries an IR tree to reconstruct.
	MessageBuild MessageType = "build"
	// MessageDone signals that a build finished and the result is appended.
	MessageDone MessageType = "done"
	// MessageError carries the single terminal error of a failed build.
	MessageError MessageType = "error"
	// MessageFetchImage asks the peer to fetch image bytes on our behalf.
	MessageFetchImage MessageType = "fetch-image"
	// MessageImageData answers a fetch-image request.
	MessageImageData MessageType = "image-data"
)

// Envelope is the single message shape crossing the bridge. Only the fields
// relevant to a given Type are populated; Data holds the IR tree for build
// messages and base64 image bytes for image-data messages.
type Envelope struct {
	Type  MessageType        `json:"type"`
	Data  encjson.RawMessage `json:"data,omitempty"`
	URL   string             `json:"url,omitempty"`
	ID    string             `json:"id,omitempty"`
	Error string             `json:"error,omitempty"`
}

// NewBuildMessage wraps an IR tree in a build envelope.
func NewBuildMessage(root *IRNode) (Envelope, error) {
	data, err := EncodeIR(root)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: MessageBuild, Data: data}, nil
}

// NewDoneMessage signals successful completion.
func NewDoneMessage() Envelope {
	return Envelope{Type: MessageDone}
}

// NewErrorMessage carries a terminal build error to the peer.
func NewErrorMessage(err error) Envelope {
	msg := Envelope{Type: MessageError}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

// NewFetchImageMessage requests image bytes for url under the correlation id.
func NewFetchImageMessage(url, id string) Envelope {
	return Envelope{Type: MessageFetchImage, URL: url, ID: id}
}

// NewImageDataMessage answers a fetch-image request. Nil data is a valid
// answer meaning the fetch failed on the peer's side.
func NewImageDataMessage(id string, data []byte) (Envelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding image payload: %w", err)
	}
	return Envelope{Type: MessageImageData, ID: id, Data: payload}, nil
}

// BuildPayload decodes the IR tree of a build envelope.
func (e Envelope) BuildPayload() (*IRNode, error) {
	if e.Type != MessageBuild {
		return nil, fmt.Errorf("envelope type %q carries no build payload", e.Type)
	}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil, nil
	}
	return DecodeIR(e.Data)
}

// ImagePayload decodes the bytes of an image-data envelope.
func (e Envelope) ImagePayload() ([]byte, error) {
	if e.Type != MessageImageData {
		return nil, fmt.Errorf("envelope type %q carries no image payload", e.Type)
	}
	if len(e.Data) == 0 {
		return nil, nil
	}
	var data []byte
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}
	return data, nil
}
