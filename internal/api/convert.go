package api

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageJSON renders a well-known JSON message back into plain JSON bytes.
func MessageJSON(msg proto.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrInvalidPayload)
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

// WebhookStruct decodes a webhook JSON object for IngestAlerts.
func WebhookStruct(data []byte) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	return out, nil
}

// FeedbackList decodes a JSON array of relation triples for SubmitFeedback.
func FeedbackList(data []byte) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode feedback: %w", err)
	}
	return out, nil
}
