package handlers

import (
	"net/http"
	"strconv"

	"hotledger/logs"
)

type logsResponse struct {
	Node string   `json:"node"`
	Logs []string `json:"logs"`
}

// HandleLogs 最近的日志行，?max=N 截取末尾 N 行
func (hm *HandlerManager) HandleLogs(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleLogs")
	lines := logs.GetLogsForNode(hm.nodeName)
	if s := r.URL.Query().Get("max"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Node: hm.nodeName, Logs: lines})
}
