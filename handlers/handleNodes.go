package handlers

import (
	"net/http"

	"hotledger/network"
)

// HandleNodes 处理节点列表请求
func (hm *HandlerManager) HandleNodes(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleNodes")
	nodes := []network.PeerInfo{}
	if hm.peers != nil {
		nodes = hm.peers.PeerInfos()
	}
	writeJSON(w, http.StatusOK, nodes)
}
