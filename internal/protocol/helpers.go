package protocol

import "time"

// The following constructors cover the connection-wide packet types
// (id always 0, no result type) named in spec §3.

// LoginChallenge is the packet the receiver sends on accept when a
// password is configured (spec §4.2 AUTHENTICATING).
func LoginChallenge() *Response {
	return &Response{PacketType: PacketLogin}
}

// LoginSuccess acknowledges a successful handshake.
func LoginSuccess() *Response {
	return &Response{PacketType: PacketLoginSuccess, Message: "Login successful"}
}

// Disconnect carries the reason the connection is closing (spec §4.2).
func Disconnect(reason string) *Response {
	return &Response{PacketType: PacketDisconnect, Message: reason}
}

// KeepAlive echoes a keep-alive request.
func KeepAlive() *Response {
	return &Response{PacketType: PacketKeepAlive}
}

// RemoteFunction asks the sender to invoke a named method.
func RemoteFunction(method string, args []any) *Response {
	return &Response{PacketType: PacketRemoteFunction, Method: method, Arguments: args}
}

// The following build EFFECT_RESULT responses; id must be the
// originating request's positive id.

func EffectSuccess(id int64, message string) *Response {
	rt := ResultSuccess
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt, Message: message}
}

func EffectSuccessTimed(id int64, message string, remaining time.Duration) *Response {
	rt := ResultSuccess
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt, Message: message, TimeRemaining: &remaining}
}

func EffectFailure(id int64, message string) *Response {
	rt := ResultFailure
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt, Message: message}
}

func EffectUnavailable(id int64, message string) *Response {
	rt := ResultUnavailable
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt, Message: message}
}

func EffectRetry(id int64, message string) *Response {
	rt := ResultRetry
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt, Message: message}
}

func EffectPaused(id int64, remaining time.Duration) *Response {
	rt := ResultPaused
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt, TimeRemaining: &remaining}
}

func EffectResumed(id int64, remaining time.Duration) *Response {
	rt := ResultResumed
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt, TimeRemaining: &remaining}
}

func EffectFinished(id int64) *Response {
	rt := ResultFinished
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt}
}

func EffectQueue(id int64) *Response {
	rt := ResultQueue
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt}
}

func EffectNotReady(id int64, message string) *Response {
	rt := ResultNotReady
	return &Response{ID: id, PacketType: PacketEffectResult, ResultType: &rt, Message: message}
}

// EffectStatus builds an EFFECT_STATUS broadcast for a set of target
// ids (spec §3: effect OR ids must be present).
func EffectStatus(result ResultType, ids []string) *Response {
	rt := result
	return &Response{PacketType: PacketEffectStatus, ResultType: &rt, IDs: ids}
}

// EffectStatusFor builds an EFFECT_STATUS broadcast for a single
// effect name.
func EffectStatusFor(result ResultType, effect string) *Response {
	rt := result
	return &Response{PacketType: PacketEffectStatus, ResultType: &rt, Effect: NormalizeEffect(effect)}
}
