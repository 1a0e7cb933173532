// keys/keys.go
// 统一的 Key 定义包，供 VM 和 DB 模块共同使用
package keys

import (
	"fmt"
	"strings"
)

// ===================== 版本控制 =====================
// 设置全局 Key 版本前缀（例如 "v1" → 产出 "v1_<key>"）。
const KeyVersion = "v1"

// withVer 把版本号拼到最前面（保持下划线风格：v1_<...>）
func withVer(s string) string {
	if KeyVersion == "" {
		return s
	}
	return KeyVersion + "_" + s
}

// StripVersion 去掉版本前缀
func StripVersion(prefixed string) string {
	if KeyVersion == "" {
		return prefixed
	}
	return strings.TrimPrefix(prefixed, KeyVersion+"_")
}

// padUint 高度、视图等数字补齐 20 位，保证字典序即数值序
func padUint(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

// ===================== 区块相关 =====================

// KeyBlock 追加写入的区块日志，按高度+哈希
// 例：v1_block_<height>_<blockHash>
func KeyBlock(height uint64, blockHash string) string {
	return withVer("block_" + padUint(height) + "_" + blockHash)
}

// KeyBlockPrefix 区块日志前缀
func KeyBlockPrefix() string {
	return withVer("block_")
}

// KeyHeight 已决高度到区块哈希
// 例：v1_height_<height>
func KeyHeight(height uint64) string {
	return withVer("height_" + padUint(height))
}

// KeyBlockHash 区块哈希到高度
// 例：v1_blockhash_<blockHash>
func KeyBlockHash(blockHash string) string {
	return withVer("blockhash_" + blockHash)
}

// KeyLatestHeight 最新已决高度
func KeyLatestHeight() string {
	return withVer("meta_latest_height")
}

// KeyStateRoot 每个已决高度执行后的状态根
// 例：v1_stateroot_<height>
func KeyStateRoot(height uint64) string {
	return withVer("stateroot_" + padUint(height))
}

// ===================== 账户与资产 =====================

// KeyAccount 账户状态
// 例：v1_account_<address>
func KeyAccount(addr string) string {
	return withVer("account_" + addr)
}

// KeyAccountPrefix 账户前缀，计算状态根时扫描
func KeyAccountPrefix() string {
	return withVer("account_")
}

// AccountAddressFromKey 从账户 key 中取出地址
func AccountAddressFromKey(key string) (string, bool) {
	p := KeyAccountPrefix()
	if !strings.HasPrefix(key, p) {
		return "", false
	}
	return key[len(p):], true
}

// KeySupply 币种总供应
// 例：v1_supply_<denom>
func KeySupply(denom string) string {
	return withVer("supply_" + denom)
}

// KeySupplyPrefix 总供应前缀
func KeySupplyPrefix() string {
	return withVer("supply_")
}

// ===================== 交易相关 =====================

// KeyReceipt 交易回执
// 例：v1_receipt_<txID>
func KeyReceipt(txID string) string {
	return withVer("receipt_" + txID)
}

// KeyPendingTx 待打包交易，重启后重新载入交易池
// 例：v1_pending_tx_<txID>
func KeyPendingTx(txID string) string {
	return withVer("pending_tx_" + txID)
}

// KeyPendingTxPrefix 待打包交易前缀
func KeyPendingTxPrefix() string {
	return withVer("pending_tx_")
}

// ===================== 共识相关 =====================

// KeyValidatorSet 验证者集合快照
// 例：v1_valset_<epoch>
func KeyValidatorSet(epoch uint64) string {
	return withVer("valset_" + padUint(epoch))
}

// KeyLatestEpoch 当前 epoch
func KeyLatestEpoch() string {
	return withVer("meta_latest_epoch")
}

// KeySafetyState 视图、锁定 QC、最高 QC
func KeySafetyState() string {
	return withVer("safety")
}

// KeyEvidence 惩罚证据
// 例：v1_evidence_<validator>_<view>_<kind>
func KeyEvidence(validator string, view uint64, kind uint8) string {
	return withVer(fmt.Sprintf("evidence_%s_%s_%d", validator, padUint(view), kind))
}

// KeyEvidencePrefix 证据前缀
func KeyEvidencePrefix() string {
	return withVer("evidence_")
}
