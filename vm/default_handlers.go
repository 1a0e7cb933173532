package vm

// RegisterDefaultHandlers 注册所有默认的交易处理器
func RegisterDefaultHandlers(reg *HandlerRegistry) error {
	handlers := []TxHandler{
		&TransferTxHandler{}, // 转账
		&MintTxHandler{},     // 发行方增发
		&BurnTxHandler{},     // 销毁
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
