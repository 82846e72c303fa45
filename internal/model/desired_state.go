package model

import "encoding/json"

// DesiredConfig is the target configuration document for one node. Inbounds
// are the resource sections principals are injected into; every other
// top-level section is carried verbatim in Extra.
type DesiredConfig struct {
	Inbounds []InboundSection          `json:"inbounds"`
	Extra    map[string]json.RawMessage `json:"extra,omitempty"`
}

type InboundSection struct {
	ID             string          `json:"id"`
	Tag            string          `json:"tag"`
	Protocol       string          `json:"protocol"`
	Listen         string          `json:"listen,omitempty"`
	Port           int             `json:"port"`
	Settings       map[string]any  `json:"settings"`
	StreamSettings json.RawMessage `json:"streamSettings,omitempty"`
	Sniffing       json.RawMessage `json:"sniffing,omitempty"`
}

// Protocols with protocol-specific credential fields.
const (
	ProtocolVLESS       = "vless"
	ProtocolVMess       = "vmess"
	ProtocolTrojan      = "trojan"
	ProtocolShadowsocks = "shadowsocks"
	ProtocolHysteria2   = "hysteria2"
)
