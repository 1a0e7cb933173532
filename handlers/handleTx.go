package handlers

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"hotledger/network"
	"hotledger/types"
)

type txResponse struct {
	TxID   string `json:"txId"`
	Status string `json:"status"`
}

// HandleTx 处理交易提交。客户端提交同步校验；对端转发的交易异步入池
func (hm *HandlerManager) HandleTx(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleTx")
	var tx types.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", types.ErrMalformedMessage, err))
		return
	}

	if from := r.Header.Get(network.GossipHeader); from != "" && hm.peerTx != nil {
		host, _, _ := net.SplitHostPort(r.RemoteAddr)
		if err := hm.peerTx.SubmitPeerTx(&tx, from+"@"+host); err != nil {
			writeError(w, http.StatusTooManyRequests, err)
			return
		}
		writeJSON(w, http.StatusAccepted, txResponse{TxID: tx.ID().Hex(), Status: "queued"})
		return
	}

	id, err := hm.ledger.SubmitTransaction(&tx)
	if err != nil {
		hm.Logger.Debug("[Handlers] tx %s rejected: %v", id.Short(), err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, txResponse{TxID: id.Hex(), Status: "pending"})
}

// HandleConsensus 入站共识消息，签名由引擎的验证池检查
func (hm *HandlerManager) HandleConsensus(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleConsensus")
	if hm.inbox == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("consensus disabled"))
		return
	}
	var env json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", types.ErrMalformedMessage, err))
		return
	}
	msg, err := types.DecodeMessage(env)
	if err != nil {
		hm.Stats.MessageDropped("malformed")
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := hm.inbox.Deliver(msg); err != nil {
		hm.Stats.MessageDropped("inbox_full")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
