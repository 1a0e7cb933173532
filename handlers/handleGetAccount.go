package handlers

import (
	"fmt"
	"net/http"

	"hotledger/types"

	"github.com/gorilla/mux"
)

type balanceResponse struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
	Balance string `json:"balance"`
}

type supplyResponse struct {
	Denom  string `json:"denom"`
	Supply string `json:"supply"`
}

func parseAddressVar(r *http.Request) (types.Address, error) {
	addr, err := types.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		return types.ZeroAddress, fmt.Errorf("%w: address: %v", types.ErrMalformedMessage, err)
	}
	return addr, nil
}

// HandleGetBalance 单个币种余额，未知账户余额为 0
func (hm *HandlerManager) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetBalance")
	addr, err := parseAddressVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	denom := mux.Vars(r)["denom"]
	bal, err := hm.ledger.GetBalance(addr, denom)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: addr.String(), Denom: denom, Balance: bal.Dec()})
}

// HandleGetAccount 处理获取账户信息的请求
func (hm *HandlerManager) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetAccount")
	addr, err := parseAddressVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acc, err := hm.ledger.GetAccount(addr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// HandleGetSupply 某币种的总供应量
func (hm *HandlerManager) HandleGetSupply(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetSupply")
	denom := mux.Vars(r)["denom"]
	supply, err := hm.ledger.TotalSupply(denom)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, supplyResponse{Denom: denom, Supply: supply.Dec()})
}
