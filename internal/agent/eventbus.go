// Package agent links the remote analytic agent to the desk: the gRPC
// EventBus the agent publishes into, its client, and the conversation log.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/cryptomind-desk/internal/bus"
	"github.com/ashureev/cryptomind-desk/internal/identity"
)

const (
	eventBusServiceName = "cryptomind.desk.v1.EventBus"
	publishMethod       = "/" + eventBusServiceName + "/Publish"

	// Metadata keys carried on the Publish stream.
	tokenMetadataKey     = "x-desk-token"
	publisherMetadataKey = "x-desk-publisher"

	// Field names of the google.protobuf.Struct frames.
	topicField   = "topic"
	payloadField = "payload"
)

// eventBusService is implemented by EventBusServer; grpc checks the
// registered value against it.
type eventBusService interface {
	publish(stream grpc.ServerStream) error
}

var eventBusDesc = grpc.ServiceDesc{
	ServiceName: eventBusServiceName,
	HandlerType: (*eventBusService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Publish",
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(eventBusService).publish(stream)
			},
		},
	},
	Metadata: "cryptomind/desk/v1/eventbus.proto",
}

// EventBusServer accepts the agent's Publish stream. Each frame is a
// google.protobuf.Struct {topic: string, payload: any}; the payload is
// forwarded to the hub as JSON.
type EventBusServer struct {
	hub      *bus.Hub
	token    string
	recorder *Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEventBusServer creates the service. An empty token accepts every
// publisher.
func NewEventBusServer(hub *bus.Hub, token string, recorder *Recorder, logger *slog.Logger) *EventBusServer {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NewRecorder(nil, "")
	}
	return &EventBusServer{
		hub:      hub,
		token:    token,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Register attaches the service to s.
func (s *EventBusServer) Register(server grpc.ServiceRegistrar) {
	server.RegisterService(&eventBusDesc, s)
}

func (s *EventBusServer) authenticate(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	publisher, err := identity.Authenticate(s.token, first(tokenMetadataKey), first(publisherMetadataKey))
	if err != nil {
		return "", status.Error(codes.Unauthenticated, err.Error())
	}
	return publisher, nil
}

func (s *EventBusServer) publish(stream grpc.ServerStream) error {
	publisher, err := s.authenticate(stream.Context())
	if err != nil {
		s.logger.Warn("[EVENTBUS] Rejected publisher", "error", err)
		return err
	}
	s.logger.Info("[EVENTBUS] Publish stream opened", "publisher", publisher)

	accepted, skipped := 0, 0
	for {
		frame := new(structpb.Struct)
		if err := stream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("[EVENTBUS] Publish stream closed",
					"publisher", publisher,
					"accepted", accepted,
					"skipped", skipped,
				)
				return stream.SendMsg(&emptypb.Empty{})
			}
			return err
		}

		env, err := envelopeFromFrame(frame)
		if err != nil {
			skipped++
			s.logger.Warn("[EVENTBUS] Skipping invalid frame", "publisher", publisher, "error", err)
			continue
		}
		env.Publisher = publisher
		env.ReceivedAt = s.now()
		s.recorder.Envelope(env)
		s.hub.Publish(env)
		accepted++
	}
}

func envelopeFromFrame(frame *structpb.Struct) (bus.Envelope, error) {
	fields := frame.GetFields()
	topic := strings.TrimSpace(fields[topicField].GetStringValue())
	if topic == "" {
		return bus.Envelope{}, errors.New("frame without topic")
	}
	payload, ok := fields[payloadField]
	if !ok {
		return bus.Envelope{}, fmt.Errorf("frame for %q without payload", topic)
	}
	raw, err := protojson.Marshal(payload)
	if err != nil {
		return bus.Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	return bus.Envelope{Topic: topic, Payload: raw}, nil
}

// frameFromEnvelope builds the wire frame for a topic and JSON payload.
func frameFromEnvelope(topic string, payload []byte) (*structpb.Struct, error) {
	value := new(structpb.Value)
	if err := protojson.Unmarshal(payload, value); err != nil {
		return nil, fmt.Errorf("payload is not JSON: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		topicField:   structpb.NewStringValue(topic),
		payloadField: value,
	}}, nil
}
