package node

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"hotledger/crt"
	"hotledger/middleware"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Server 同一端口上的 HTTP/3 (UDP) 与 TLS (TCP) 服务
type Server struct {
	node    *Node
	http3   *http3.Server
	tcp     *http.Server
	limiter *middleware.RateLimiter
	wg      sync.WaitGroup
}

// NewServer rateLimit 为每个 IP 每秒请求上限，<=0 不限制
func NewServer(n *Node, rateLimit int) *Server {
	return &Server{node: n, limiter: middleware.NewRateLimiter(rateLimit, time.Second)}
}

func (s *Server) handler() http.Handler {
	r := s.node.Handlers.Router()
	r.Use(s.limiter.Middleware)
	r.Use(middleware.MaxBody(s.node.cfg.Server.MaxRequestBodySize))
	return r
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	cfg := s.node.cfg
	host, _, err := net.SplitHostPort(cfg.Server.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen addr %q: %w", cfg.Server.ListenAddr, err)
	}
	cert, err := crt.LoadOrCreate(
		filepath.Join(cfg.Node.DataDir, "server.crt"),
		filepath.Join(cfg.Node.DataDir, "server.key"),
		s.node.address.String(),
		[]string{host},
		time.Duration(cfg.Server.CertValidityDays)*24*time.Hour,
	)
	if err != nil {
		return nil, fmt.Errorf("certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
		NextProtos:   []string{http3.NextProtoH3, "http/1.1"},
	}, nil
}

// ListenAndServe 阻塞直到 ctx 结束或服务出错
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.node.cfg.Server
	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return err
	}
	handler := s.handler()

	quicConfig := &quic.Config{
		KeepAlivePeriod: cfg.QUICKeepAlivePeriod,
		MaxIdleTimeout:  cfg.QUICMaxIdleTimeout,
		Allow0RTT:       true,
	}
	s.http3 = &http3.Server{
		Addr:       cfg.ListenAddr,
		Handler:    handler,
		TLSConfig:  tlsConfig,
		QUICConfig: quicConfig,
	}
	listener, err := quic.ListenAddr(cfg.ListenAddr, http3.ConfigureTLSConfig(tlsConfig), quicConfig)
	if err != nil {
		return fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	// TCP TLS 服务方便 curl 等工具访问
	s.tcp = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: cfg.HTTPTimeout,
	}

	errCh := make(chan error, 2)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.tcp.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.http3.ServeListener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http3 server: %w", err)
		}
	}()
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go s.limiter.RunCleanup(cleanupCtx, 2*time.Minute)

	s.node.Logger.Info("[Server] serving HTTP/3 and TLS on %s", cfg.ListenAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	s.shutdown()
	return serveErr
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.http3 != nil {
		_ = s.http3.Close()
	}
	if s.tcp != nil {
		_ = s.tcp.Shutdown(ctx)
	}
	s.wg.Wait()
}
