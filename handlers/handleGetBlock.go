package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"hotledger/types"

	"github.com/gorilla/mux"
)

// HandleGetBlock 按高度查询已提交区块，"latest" 表示当前高度
func (hm *HandlerManager) HandleGetBlock(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetBlock")
	raw := mux.Vars(r)["height"]
	var height uint64
	if raw == "latest" {
		height = hm.ledger.Status().Height
	} else {
		h, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: height %q", types.ErrMalformedMessage, raw))
			return
		}
		height = h
	}
	block, err := hm.ledger.GetBlock(height)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// HandleGetReceipt 交易回执
func (hm *HandlerManager) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetReceipt")
	raw := mux.Vars(r)["txid"]
	id, err := types.HashFromHex(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: txid: %v", types.ErrMalformedMessage, err))
		return
	}
	receipt, err := hm.ledger.GetReceipt(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
