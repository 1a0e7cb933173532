package handlers

import (
	"net/http"
)

// HandleStatus 节点状态
func (hm *HandlerManager) HandleStatus(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleStatus")
	writeJSON(w, http.StatusOK, hm.ledger.Status())
}
