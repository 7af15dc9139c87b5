package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/root"
)

// Client to server commands.
const (
	CommandListen = "LISTEN"
	CommandIgnore = "IGNORE"
)

// CommandPacket is the JSON text frame exchanged in both directions.
type CommandPacket struct {
	Command string `json:"COMMAND"`
	Data    string `json:"DATA"`
}

// ParseCommand decodes a client command. Unknown commands and malformed paths are
// rejected with ErrDecodeFailure.
func ParseCommand(data []byte) (CommandPacket, error) {
	var cmd CommandPacket
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecodeFailure, err), "websocket", "ParseCommand", "decode JSON")
	}
	switch cmd.Command {
	case CommandListen, CommandIgnore:
	default:
		return cmd, errors.WrapInvalid(fmt.Errorf("%w: unknown command %q", errors.ErrDecodeFailure, cmd.Command),
			"websocket", "ParseCommand", "check command")
	}
	if !osc.ValidAddress(cmd.Data) {
		return cmd, errors.WrapInvalid(fmt.Errorf("%w: bad path %q", errors.ErrDecodeFailure, cmd.Data),
			"websocket", "ParseCommand", "check path")
	}
	return cmd, nil
}

// notification is an event pre-encoded once for every interested connection.
type notification struct {
	messageType int
	data        []byte
}

func encodeEvent(ev root.Event) (notification, error) {
	if ev.Kind == root.EventValue {
		data, err := osc.Encode(ev.Message)
		if err != nil {
			return notification{}, err
		}
		return notification{messageType: binaryMessage, data: data}, nil
	}
	data, err := json.Marshal(CommandPacket{Command: ev.Kind.Command(), Data: ev.Path})
	if err != nil {
		return notification{}, err
	}
	return notification{messageType: textMessage, data: data}, nil
}
