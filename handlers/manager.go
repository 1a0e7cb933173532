package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"hotledger/interfaces"
	"hotledger/logs"
	"hotledger/network"
	"hotledger/stats"
	"hotledger/txpool"
	"hotledger/types"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PeerTxSink 对端转发的交易走异步队列
type PeerTxSink interface {
	SubmitPeerTx(tx *types.Transaction, from string) error
}

// PeerDirectory 路由表查询
type PeerDirectory interface {
	PeerInfos() []network.PeerInfo
}

// HandlerManager 管理所有HTTP处理器及其依赖
type HandlerManager struct {
	ledger   interfaces.Ledger
	inbox    interfaces.ConsensusInbox
	peerTx   PeerTxSink
	peers    PeerDirectory
	nodeName string // 日志环形缓冲使用的节点名

	Stats  *stats.Stats
	Logger logs.Logger
}

// NewHandlerManager inbox、peerTx、peers 可为 nil（只读 API 节点）
func NewHandlerManager(
	ledger interfaces.Ledger,
	inbox interfaces.ConsensusInbox,
	peerTx PeerTxSink,
	peers PeerDirectory,
	st *stats.Stats,
	nodeName string,
	logger logs.Logger,
) *HandlerManager {
	if st == nil {
		st = stats.NewStats(nodeName)
	}
	if logger == nil {
		logger = logs.NewNodeLogger(nodeName, 0)
	}
	return &HandlerManager{
		ledger:   ledger,
		inbox:    inbox,
		peerTx:   peerTx,
		peers:    peers,
		nodeName: nodeName,
		Stats:    st,
		Logger:   logger,
	}
}

// RegisterRoutes 注册所有路由
func (hm *HandlerManager) RegisterRoutes(r *mux.Router) {
	// 账本查询
	r.HandleFunc("/balance/{address}/{denom}", hm.HandleGetBalance).Methods(http.MethodGet)
	r.HandleFunc("/account/{address}", hm.HandleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/block/{height}", hm.HandleGetBlock).Methods(http.MethodGet)
	r.HandleFunc("/receipt/{txid}", hm.HandleGetReceipt).Methods(http.MethodGet)
	r.HandleFunc("/supply/{denom}", hm.HandleGetSupply).Methods(http.MethodGet)
	// 写入与节点间消息
	r.HandleFunc(network.TxPath, hm.HandleTx).Methods(http.MethodPost)
	r.HandleFunc(network.ConsensusPath, hm.HandleConsensus).Methods(http.MethodPost)
	// 运维
	r.HandleFunc("/status", hm.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/peers", hm.HandleNodes).Methods(http.MethodGet)
	r.HandleFunc("/logs", hm.HandleLogs).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(hm.Stats.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Router 创建挂好全部路由的 mux.Router
func (hm *HandlerManager) Router() *mux.Router {
	r := mux.NewRouter()
	hm.RegisterRoutes(r)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor 错误分类到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, txpool.ErrPoolFull):
		return http.StatusTooManyRequests
	case errors.Is(err, txpool.ErrAlreadyIncluded), errors.Is(err, txpool.ErrNonceTaken):
		return http.StatusConflict
	case errors.Is(err, txpool.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrMalformedMessage),
		errors.Is(err, types.ErrInvalidSignature),
		errors.Is(err, types.ErrExpired),
		errors.Is(err, types.ErrNonceMismatch),
		errors.Is(err, types.ErrInsufficientBalance),
		errors.Is(err, types.ErrTooManyDenominations),
		errors.Is(err, types.ErrUnauthorized),
		errors.Is(err, types.ErrOverflow):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
