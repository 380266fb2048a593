package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/messages"
)

// Envelope is a bus message as seen by a remote subscriber.
type Envelope struct {
	Topic       string
	Seq         uint64
	PublishedAt time.Time
	// Payload is a pointer to the topic's message type, or nil for topics
	// this package has no type for.
	Payload any
	// Raw is the payload as carried on the wire.
	Raw *structpb.Struct
}

// toStruct converts any JSON-marshalable value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return structpb.NewStruct(m)
}

// decodeStruct decodes s into the payload type registered for topic.
func decodeStruct(topic string, s *structpb.Struct) (any, error) {
	if s == nil {
		return nil, fmt.Errorf("missing payload")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode payload: %w", err)
	}
	return messages.DecodeJSON(topic, data)
}

func encodeEnvelope(msg bus.Message) (*structpb.Struct, error) {
	payload, err := toStruct(msg.Payload)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"topic":        structpb.NewStringValue(msg.Topic),
		"seq":          structpb.NewNumberValue(float64(msg.Seq)),
		"published_at": structpb.NewStringValue(msg.PublishedAt.UTC().Format(time.RFC3339Nano)),
		"payload":      structpb.NewStructValue(payload),
	}}, nil
}

func decodeEnvelope(s *structpb.Struct) (Envelope, error) {
	f := s.GetFields()
	env := Envelope{
		Topic: f["topic"].GetStringValue(),
		Seq:   uint64(f["seq"].GetNumberValue()),
		Raw:   f["payload"].GetStructValue(),
	}
	if ts := f["published_at"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return env, fmt.Errorf("invalid published_at %q: %w", ts, err)
		}
		env.PublishedAt = t
	}
	if messages.KnownTopic(env.Topic) {
		payload, err := decodeStruct(env.Topic, env.Raw)
		if err != nil {
			return env, err
		}
		env.Payload = payload
	}
	return env, nil
}

func stringList(v *structpb.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		if s := item.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
