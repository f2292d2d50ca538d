package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PeerID names a signal sender or recipient: "host", "client", or a
// decimal client id in multi rooms.
type PeerID string

const (
	PeerHost   PeerID = "host"
	PeerClient PeerID = "client"
)

func ParsePeerID(s string) PeerID {
	s = strings.TrimSpace(s)
	switch lower := strings.ToLower(s); PeerID(lower) {
	case PeerHost, PeerClient:
		return PeerID(lower)
	}
	if n, err := strconv.Atoi(s); err == nil {
		return ClientPeer(n)
	}
	return PeerID(s)
}

func ClientPeer(id int) PeerID {
	if id == 1 {
		return PeerHost
	}
	return PeerID(strconv.Itoa(id))
}

func (p PeerID) IsHost() bool {
	return p == PeerHost
}

func (p PeerID) String() string {
	return string(p)
}

// UnmarshalJSON accepts both "2" and 2.
func (p *PeerID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ParsePeerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("peer id must be a string or an integer: %w", err)
	}
	id, err := n.Int64()
	if err != nil {
		return fmt.Errorf("peer id must be a string or an integer: %w", err)
	}
	*p = ClientPeer(int(id))
	return nil
}

// Entry is one queued signal. Data is relayed byte for byte.
type Entry struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	From       PeerID          `json:"from,omitempty"`
	EnqueuedAt int64           `json:"enqueued_at"`
}
