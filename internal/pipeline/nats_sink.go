package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"sentinel/internal/collector"
	"sentinel/internal/model"
)

const (
	EncodingJSON  = "json"
	EncodingProto = "proto"

	HeaderAlertID  = "x-alert-id"
	HeaderRuleID   = "x-rule-id"
	HeaderSeverity = "x-severity"
	HeaderHost     = "x-host"
)

// EventTags are global identity tags stamped on every published alert.
// Params: values from config.global.
// Returns: immutable tags used by sinks.
type EventTags struct {
	DC      string
	Host    string
	Project string
	Role    string
}

// Publisher is the NATS surface NATSSink needs.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSSink publishes each alert of a scan as one NATS message.
type NATSSink struct {
	publisher Publisher
	subject   string
	encoding  string
	tags      EventTags
}

// NewNATSSink validates the subject and encoding and builds the sink.
// Params: publisher connection; subject target; encoding json|proto; tags identity.
// Returns: sink or validation error.
func NewNATSSink(publisher Publisher, subject, encoding string, tags EventTags) (*NATSSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("nats publisher is required")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("nats subject is empty")
	}
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" {
		encoding = EncodingJSON
	}
	if encoding != EncodingJSON && encoding != EncodingProto {
		return nil, fmt.Errorf("unsupported nats encoding %q", encoding)
	}
	return &NATSSink{publisher: publisher, subject: subject, encoding: encoding, tags: tags}, nil
}

// Consume publishes every alert; failures are joined and do not stop the batch.
// Params: ctx checked between publishes; scan payload.
// Returns: joined publish errors.
func (s *NATSSink) Consume(ctx context.Context, scan collector.Scan) error {
	var errs []error
	for _, alert := range scan.Alerts {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		msg, err := s.message(alert)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.publisher.PublishMsg(msg); err != nil {
			errs = append(errs, fmt.Errorf("publish alert %s: %w", alert.ID, err))
		}
	}
	return errors.Join(errs...)
}

// message encodes one alert with routing headers.
func (s *NATSSink) message(alert model.Alert) (*nats.Msg, error) {
	payload, err := s.encode(alert)
	if err != nil {
		return nil, fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = payload
	msg.Header.Set(HeaderAlertID, alert.ID)
	msg.Header.Set(HeaderRuleID, alert.Rule())
	msg.Header.Set(HeaderSeverity, string(alert.Severity))
	if s.tags.Host != "" {
		msg.Header.Set(HeaderHost, s.tags.Host)
	}
	return msg, nil
}

// envelope renders an alert plus identity tags as plain JSON-compatible values.
func (s *NATSSink) envelope(alert model.Alert) (map[string]any, error) {
	raw, err := json.Marshal(map[string]any{
		"id":         alert.ID,
		"title":      alert.Title,
		"severity":   alert.Severity,
		"details":    alert.Details,
		"created_at": alert.CreatedAt.UTC().Format(time.RFC3339Nano),
		"dc":         s.tags.DC,
		"host":       s.tags.Host,
		"project":    s.tags.Project,
		"role":       s.tags.Role,
	})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *NATSSink) encode(alert model.Alert) ([]byte, error) {
	body, err := s.envelope(alert)
	if err != nil {
		return nil, err
	}
	if s.encoding == EncodingJSON {
		return json.Marshal(body)
	}
	msg, err := structpb.NewStruct(body)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodeAlertPayload decodes a published payload back into a generic map.
// Params: encoding json|proto; payload bytes.
// Returns: decoded map or decode error.
func DecodeAlertPayload(encoding string, payload []byte) (map[string]any, error) {
	switch encoding {
	case EncodingProto:
		var msg structpb.Struct
		if err := proto.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal struct: %w", err)
		}
		return msg.AsMap(), nil
	default:
		var out map[string]any
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("unmarshal json: %w", err)
		}
		return out, nil
	}
}
