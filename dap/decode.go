package dap

import (
	"encoding/json"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
)

// DecodeMessage turns one frame body (as produced by Decoder.Feed) into a
// typed dap.Message, dispatching on the embedded "type"/"command"/"event"
// fields the same way dap.ReadProtocolMessage does for a blocking reader.
// A body that is not valid JSON, or whose envelope is unrecognized, is a
// transport-level error: the caller must close the transport.
func DecodeMessage(body []byte) (dap.Message, error) {
	msg, err := dap.DecodeProtocolMessage(body)
	if err != nil {
		return nil, errors.Wrap(err, "dap: invalid message body")
	}
	return msg, nil
}

// EncodeMessage marshals a dap.Message to its JSON body and wraps it in the
// Content-Length frame.
func EncodeMessage(msg dap.Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "dap: failed to marshal message")
	}
	return Encode(body), nil
}
