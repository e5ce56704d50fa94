// Package codec turns notifications into Kafka message values and back.
package codec

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"labledger/domain/event"
)

type Codec interface {
	Name() string
	Encode(event.Event) ([]byte, error)
	Decode([]byte) (event.Event, error)
}

const (
	NameJSON  = "json"
	NameProto = "proto"
)

func ByName(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSON{}, nil
	case NameProto:
		return Proto{}, nil
	default:
		return nil, errors.Errorf("unknown codec %q", name)
	}
}

type JSON struct{}

func (JSON) Name() string { return NameJSON }

func (JSON) Encode(e event.Event) ([]byte, error) {
	b, err := json.Marshal(e)
	return b, errors.Wrap(err, "failed to marshal event")
}

func (JSON) Decode(b []byte) (event.Event, error) {
	var e event.Event
	if err := json.Unmarshal(b, &e); err != nil {
		return event.Event{}, errors.Wrap(err, "failed to unmarshal event")
	}
	return e, nil
}

// Proto wraps the event in a google.protobuf.Struct envelope. Routing
// fields are typed Struct values; the record itself travels as a JSON
// string so 256-bit amounts keep full precision.
type Proto struct{}

func (Proto) Name() string { return NameProto }

func (Proto) Encode(e event.Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event")
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"id":   e.ID.String(),
		"seq":  float64(e.Seq),
		"kind": string(e.Kind),
		"key":  e.Key(),
		"time": e.Time.Format(time.RFC3339Nano),
		"body": string(body),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build envelope")
	}
	b, err := proto.Marshal(s)
	return b, errors.Wrap(err, "failed to marshal envelope")
}

func (Proto) Decode(b []byte) (event.Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return event.Event{}, errors.Wrap(err, "failed to unmarshal envelope")
	}
	body, ok := s.GetFields()["body"]
	if !ok {
		return event.Event{}, errors.New("envelope has no body")
	}
	return JSON{}.Decode([]byte(body.GetStringValue()))
}
