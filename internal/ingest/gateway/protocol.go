package gateway

import "encoding/json"

// Opcodes used by the Discord Gateway v10 protocol.
const (
	OpDispatch            = 0
	OpHeartbeat            = 1
	OpIdentify             = 2
	OpResume               = 6
	OpReconnect            = 7
	OpInvalidSession       = 9
	OpHello                = 10
	OpHeartbeatAck         = 11
)

// Close codes that carry protocol meaning beyond "reconnect".
const (
	CloseUnknownError         = 4000
	CloseAuthenticationFailed = 4004
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
	closeZombieConnection     = 4009
)

// Frame is the envelope every Gateway message is wrapped in.
type Frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int            `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

func encodeData(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// helloPayload is the `d` of an op-10 Hello frame.
type helloPayload struct {
	HeartbeatIntervalMs int `json:"heartbeat_interval"`
}

// identifyProperties is the `properties` object of an Identify payload.
type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyPayload struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
}

// readyPayload is the subset of a READY dispatch's `d` this ingestor needs.
type readyPayload struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// identifyConnectionProperties is the fixed os/browser/device identity this
// ingestor presents to Discord; "mcp-secure-proxy" is the external contract
// spec §4.5 names verbatim.
var identifyConnectionProperties = identifyProperties{
	OS:      "linux",
	Browser: "mcp-secure-proxy",
	Device:  "mcp-secure-proxy",
}

func buildIdentifyFrame(token string, intents int) Frame {
	op := OpIdentify
	return Frame{
		Op: op,
		D: encodeData(identifyPayload{
			Token:      token,
			Intents:    intents,
			Properties: identifyConnectionProperties,
		}),
	}
}

func buildResumeFrame(token, sessionID string, seq int) Frame {
	return Frame{
		Op: OpResume,
		D: encodeData(resumePayload{
			Token:     token,
			SessionID: sessionID,
			Seq:       seq,
		}),
	}
}

func buildHeartbeatFrame(seq *int) Frame {
	var d json.RawMessage
	if seq != nil {
		d = encodeData(*seq)
	} else {
		d = encodeData(nil)
	}
	return Frame{Op: OpHeartbeat, D: d}
}

func buildHeartbeatAckFrame() Frame {
	return Frame{Op: OpHeartbeatAck}
}

// classifyClose reports whether a close code is fatal (spec §4.5/§7's
// Unauthenticated kind). It says nothing about resumption: after any
// non-fatal close, onHello resumes whenever session state is present.
func classifyClose(code int) (fatal bool) {
	switch code {
	case CloseAuthenticationFailed, CloseInvalidShard, CloseShardingRequired,
		CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return true
	default:
		return false
	}
}
