package backend

import (
	"context"
	"fmt"
	"net"

	"github.com/relab/hetpaxos/internal/proto/hetpaxospb"
	"github.com/relab/hetpaxos/logging"
	"github.com/relab/hetpaxos/netconfig"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// Server is the inbound side of the backend. It accepts consensus streams
// from peers and hands them to the link manager.
type Server struct {
	logger  logging.Logger
	dir     *netconfig.Directory
	links   *LinkManager
	grpcSrv *grpc.Server
}

// NewServer creates a server that authenticates peers against the directory.
// If creds is nil, the server runs without transport security and peers
// identify themselves through metadata.
func NewServer(logger logging.Logger, dir *netconfig.Directory, links *LinkManager, creds credentials.TransportCredentials) *Server {
	grpcOpts := []grpc.ServerOption{grpc.ForceServerCodec(hetpaxospb.Codec{})}
	if creds != nil {
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}
	srv := &Server{
		logger:  logger,
		dir:     dir,
		links:   links,
		grpcSrv: grpc.NewServer(grpcOpts...),
	}
	hetpaxospb.RegisterConsensusServer(srv.grpcSrv, srv)
	return srv
}

// Start creates a listener on the given address and starts the server.
func (srv *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv.StartOnListener(lis)
	return nil
}

// StartOnListener starts the server with the given listener.
func (srv *Server) StartOnListener(listener net.Listener) {
	go func() {
		err := srv.grpcSrv.Serve(listener)
		if err != nil {
			srv.logger.Errorf("serve: %v", err)
		}
	}()
}

// Stop stops the server.
func (srv *Server) Stop() {
	srv.grpcSrv.Stop()
}

// StreamConsensusMessages implements hetpaxospb.ConsensusServer. The stream
// stays open until it fails or a newer stream to the same peer replaces it.
func (srv *Server) StreamConsensusMessages(stream hetpaxospb.ConsensusStream) error {
	name, err := peerNameFromContext(stream.Context(), srv.dir)
	if err != nil {
		srv.logger.Infof("rejecting stream: %v", err)
		return err
	}
	return srv.links.Serve(name, stream, nil)
}

// peerNameFromContext extracts the peer's name from the stream context. With
// TLS the name comes from the certificate's CommonName; without it, from the
// "name" metadata field. Either way the name must be in the directory.
func peerNameFromContext(ctx context.Context, dir *netconfig.Directory) (string, error) {
	peerInfo, ok := peer.FromContext(ctx)
	if !ok {
		return "", fmt.Errorf("peer info not available")
	}

	if peerInfo.AuthInfo != nil && peerInfo.AuthInfo.AuthType() == "tls" {
		tlsInfo, ok := peerInfo.AuthInfo.(credentials.TLSInfo)
		if !ok {
			return "", fmt.Errorf("authInfo of wrong type: %T", peerInfo.AuthInfo)
		}
		if len(tlsInfo.State.PeerCertificates) > 0 {
			name := tlsInfo.State.PeerCertificates[0].Subject.CommonName
			if _, ok := dir.Peer(name); ok {
				return name, nil
			}
		}
		return "", fmt.Errorf("could not find matching certificate")
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", fmt.Errorf("metadata not available")
	}

	v := md.Get("name")
	if len(v) < 1 {
		return "", fmt.Errorf("name field not present")
	}
	if _, ok := dir.Peer(v[0]); !ok {
		return "", fmt.Errorf("unknown peer %q", v[0])
	}
	return v[0], nil
}
