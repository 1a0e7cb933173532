// keys/category.go
// Key 分类：区分参与状态根的账户状态和其他 KV
package keys

import "strings"

// KeyCategory 定义 Key 的存储归属
type KeyCategory int

const (
	CategoryKV    KeyCategory = iota // 不参与状态根（回执、索引、元数据）
	CategoryState                    // 参与状态根的账户状态
	CategoryMeta                     // 执行期间维护的聚合值（总供应）
)

func (c KeyCategory) String() string {
	switch c {
	case CategoryState:
		return "state"
	case CategoryMeta:
		return "meta"
	default:
		return "kv"
	}
}

// CategorizeKey 判断 key 的归属
func CategorizeKey(key string) KeyCategory {
	switch {
	case strings.HasPrefix(key, KeyAccountPrefix()):
		return CategoryState
	case strings.HasPrefix(key, KeySupplyPrefix()):
		return CategoryMeta
	default:
		return CategoryKV
	}
}

// IsStateKey 是否参与状态根
func IsStateKey(key string) bool {
	return CategorizeKey(key) == CategoryState
}
