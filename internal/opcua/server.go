package opcua

import (
	"context"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenMachineSim/internal/config"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/server"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"
)

// Server is the OPC UA endpoint serving one simulated namespace.
type Server struct {
	cfg    config.ServerConfig
	srv    *server.Server
	ns     *Namespace
	logger *zap.Logger
}

// NewServer configures the endpoint and registers ns with it. The
// namespace index is known once NewServer returns.
func NewServer(cfg config.ServerConfig, ns *Namespace, logger *zap.Logger) (*Server, error) {
	opts := []server.Option{
		server.EnableSecurity("None", ua.MessageSecurityModeNone),
	}
	for _, policy := range cfg.SecurityPolicies {
		if !strings.EqualFold(policy, "None") {
			logger.Warn("Security policy not supported, ignored", zap.String("policy", policy))
		}
	}

	if !cfg.AllowAnonymous {
		return nil, fmt.Errorf("anonymous access is the only supported authentication mode")
	}
	opts = append(opts, server.EnableAuthMode(ua.UserTokenTypeAnonymous))

	hosts := []string{cfg.BindAddress}
	hosts = append(hosts, cfg.AlternateHostnames...)
	for _, host := range hosts {
		if host == "" {
			continue
		}
		opts = append(opts, server.EndPoint(host, cfg.Port))
	}

	srv := server.New(opts...)
	srv.AddNamespace(ns)
	ns.SetNotifier(srv)

	s := &Server{
		cfg:    cfg,
		srv:    srv,
		ns:     ns,
		logger: logger,
	}

	logger.Info("Namespace registered",
		zap.String("uri", ns.Name()),
		zap.Uint16("index", ns.ID()))

	return s, nil
}

// NamespaceIndex is the index the placeholder namespace resolves to.
func (s *Server) NamespaceIndex() uint16 {
	return s.ns.ID()
}

// LinkRoot makes the custom root browsable from the standard root folder.
// Call after the address space has been applied.
func (s *Server) LinkRoot() error {
	root := s.ns.Root()
	if root == nil {
		return fmt.Errorf("custom root not added")
	}

	ns0, err := s.srv.Namespace(0)
	if err != nil {
		return fmt.Errorf("standard namespace: %w", err)
	}
	folder := ns0.Node(ua.NewNumericNodeID(0, id.RootFolder))
	if folder == nil {
		return fmt.Errorf("standard namespace has no root folder")
	}
	folder.AddRef(root, id.Organizes, true)
	return nil
}

// Start opens the endpoint.
func (s *Server) Start(ctx context.Context) error {
	if err := s.srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start OPC UA endpoint: %w", err)
	}
	return nil
}

// Endpoints lists the URLs clients can connect to.
func (s *Server) Endpoints() []string {
	hosts := append([]string{}, s.cfg.AlternateHostnames...)
	if s.cfg.BindAddress != "" && s.cfg.BindAddress != "0.0.0.0" {
		hosts = append([]string{s.cfg.BindAddress}, hosts...)
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}

	urls := make([]string, 0, len(hosts))
	for _, host := range hosts {
		urls = append(urls, fmt.Sprintf("opc.tcp://%s:%d%s", host, s.cfg.Port, s.cfg.ResourcePath))
	}
	return urls
}

// Close stops the endpoint and drops client sessions.
func (s *Server) Close() error {
	return s.srv.Close()
}
