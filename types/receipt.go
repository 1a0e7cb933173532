package types

// 回执状态
const (
	ReceiptSucceed = "SUCCEED"
	ReceiptFailed  = "FAILED"
)

// Receipt 区块内单笔交易的执行结果
type Receipt struct {
	TxID   Hash   `json:"txId"`
	Height uint64 `json:"height"`
	Index  int    `json:"index"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptSucceed
}
