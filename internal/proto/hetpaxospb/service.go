package hetpaxospb

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// The gRPC binding below is maintained by hand for the same reason as the
// marshalers: the stream carries our codec, not the standard proto codec,
// so there is no generated code to anchor it to.

// CodecName is the content-subtype registered for consensus streams.
const CodecName = "hetpaxos"

// StreamMethod is the full method name of the consensus stream.
const StreamMethod = "/hetpaxos.Consensus/StreamConsensusMessages"

// Codec marshals ConsensusMessages for transport. It intentionally handles
// no other types; both ends of the stream speak only ConsensusMessage.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*ConsensusMessage)
	if !ok {
		return nil, fmt.Errorf("hetpaxospb: cannot marshal %T", v)
	}
	return m.Marshal(), nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*ConsensusMessage)
	if !ok {
		return fmt.Errorf("hetpaxospb: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

// ConsensusServer is the server-side interface of the consensus service.
type ConsensusServer interface {
	StreamConsensusMessages(ConsensusStream) error
}

// ConsensusStream is a bidirectional stream of consensus messages.
// Both the client and the server side of a stream implement it.
type ConsensusStream interface {
	Context() context.Context
	Send(*ConsensusMessage) error
	Recv() (*ConsensusMessage, error)
}

// ConsensusServiceDesc is the service descriptor for grpc.
var ConsensusServiceDesc = grpc.ServiceDesc{
	ServiceName: "hetpaxos.Consensus",
	HandlerType: (*ConsensusServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamConsensusMessages",
			Handler:       streamConsensusMessagesHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "proto/hetpaxos.proto",
}

// RegisterConsensusServer registers the consensus service implementation.
func RegisterConsensusServer(s grpc.ServiceRegistrar, srv ConsensusServer) {
	s.RegisterService(&ConsensusServiceDesc, srv)
}

func streamConsensusMessagesHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConsensusServer).StreamConsensusMessages(serverStream{stream})
}

type serverStream struct {
	grpc.ServerStream
}

func (s serverStream) Send(m *ConsensusMessage) error { return s.ServerStream.SendMsg(m) }

func (s serverStream) Recv() (*ConsensusMessage, error) {
	m := new(ConsensusMessage)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamConsensusMessages opens the consensus stream on the given connection.
// The codec is forced on the call, so the connection needs no global codec
// registration.
func StreamConsensusMessages(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (ConsensusStream, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	s, err := cc.NewStream(ctx, &ConsensusServiceDesc.Streams[0], StreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return clientStream{s}, nil
}

type clientStream struct {
	grpc.ClientStream
}

func (s clientStream) Send(m *ConsensusMessage) error { return s.ClientStream.SendMsg(m) }

func (s clientStream) Recv() (*ConsensusMessage, error) {
	m := new(ConsensusMessage)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
