// Package codec defines the wire records shared with bus collaborators and the
// encodings used to serialize them.
//
// JSON is the default interop encoding. Msgpack is available for deployments
// where every collaborator runs this container.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Command is the shaped, rate-limited command record published on a tenant's
// command channel. Field names are part of the wire contract.
type Command struct {
	TenantID  string    `json:"tenant_id" msgpack:"tenant_id"`
	Value     float64   `json:"value" msgpack:"value"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Seq       uint64    `json:"seq" msgpack:"seq"`
}

// Heartbeat is the periodic liveness record published on a tenant's heartbeat
// channel, one per node role.
type Heartbeat struct {
	Node      string    `json:"node" msgpack:"node"`
	Status    string    `json:"status" msgpack:"status"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Status is an informational lifecycle record published on a tenant's status
// channel.
type Status struct {
	Node      string    `json:"node" msgpack:"node"`
	Event     string    `json:"event" msgpack:"event"`
	Detail    string    `json:"detail,omitempty" msgpack:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Encoding serializes wire records to and from payload bytes.
type Encoding interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ForName returns the encoding registered under name. Empty selects JSON.
func ForName(name string) (Encoding, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	}
	return nil, fmt.Errorf("unknown payload encoding %q", name)
}

// JSON is the default wire encoding.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Msgpack is the compact alternative encoding.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
