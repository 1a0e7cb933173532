package network

import (
	"crypto/tls"
	"net/http"
	"time"

	"hotledger/config"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// NewHTTP3Client 创建节点间使用的 HTTP/3 客户端（非单例，每个节点一个）
func NewHTTP3Client(cfg config.ServerConfig, timeout time.Duration) *http.Client {
	tlsCfg := &tls.Config{
		// 节点使用自签名证书，身份由消息签名保证
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		MaxVersion:         tls.VersionTLS13,
		ClientSessionCache: tls.NewLRUClientSessionCache(128),
		NextProtos:         []string{http3.NextProtoH3},
	}
	keepAlive := cfg.QUICKeepAlivePeriod
	if keepAlive <= 0 {
		keepAlive = 10 * time.Second
	}
	idle := cfg.QUICMaxIdleTimeout
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	tr := &http3.Transport{
		TLSClientConfig: tlsCfg,
		QUICConfig: &quic.Config{
			KeepAlivePeriod: keepAlive,
			MaxIdleTimeout:  idle,
			Allow0RTT:       true,
		},
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}
