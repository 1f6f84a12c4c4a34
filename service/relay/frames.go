package relay

import (
	"encoding/json"

	decode "RelayGate/tools/decode"

	"github.com/pkg/errors"
)

// 事件帧：{type, args}，args 是一串不透明 JSON 值。
// 网关只认保留类型，其余类型原样双向透传。
const (
	EventIdentify      = "identify"       // 客户端报授权标识
	EventRequestInfo   = "request_info"   // 客户端要求重推快照
	EventBotInfo       = "bot_info"       // 网关 -> 客户端：档案快照
	EventPairingCode   = "pairing_code"   // 后端 -> 网关：走配对旁路，不透传
	EventPairingNotice = "pairing_notice" // 网关 -> 客户端：配对码通知
	EventPing          = "ping"
	EventPong          = "pong"
)

type EventFrame struct {
	Type string            `json:"type"`
	Args []json.RawMessage `json:"args,omitempty"`
}

func ParseFrameJSON(raw []byte) (*EventFrame, error) {
	frame := &EventFrame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame failed")
	}
	if frame.Type == "" {
		return nil, errors.New("frame missing type")
	}
	return frame, nil
}

func (f *EventFrame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// NewFrame 构造服务端回执帧，args 逐个序列化。
func NewFrame(typ string, args ...any) (*EventFrame, error) {
	f := &EventFrame{Type: typ}
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal arg for %s frame", typ)
		}
		f.Args = append(f.Args, b)
	}
	return f, nil
}

// FirstArgMap 把 args[0] 当 JSON 对象解开；缺失或不是对象返回 nil。
func (f *EventFrame) FirstArgMap() map[string]any {
	if len(f.Args) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(f.Args[0], &m); err != nil {
		return nil
	}
	return m
}

// ---- 保留类型负载 ----

type IdentifyPayload struct {
	AuthID string `json:"auth_id"`
	Phone  string `json:"phone,omitempty"`
}

func ExtractIdentifyPayload(f *EventFrame) (*IdentifyPayload, error) {
	m := f.FirstArgMap()
	if m == nil {
		return nil, errors.New("identify payload missing")
	}
	return decode.DecodeMap[IdentifyPayload](m)
}

// ExtractResolveHints 从触发懒建的那一帧里尽量抠出识别信息（如 phone 字段）。
// 尽力而为：负载不是对象或字段缺失都返回零值。
func ExtractResolveHints(f *EventFrame) IdentifyPayload {
	m := f.FirstArgMap()
	if m == nil {
		return IdentifyPayload{}
	}
	p, err := decode.DecodeMap[IdentifyPayload](m)
	if err != nil {
		return IdentifyPayload{}
	}
	return *p
}

type PairingPayload struct {
	AuthID string `json:"auth_id"`
	Code   string `json:"code,omitempty"`
}
