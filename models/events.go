package models

// 类目域删除事件的对象种类
const (
	DeletionKindCategory = "CATEGORY"
	DeletionKindSet      = "SET"
	DeletionKindOption   = "OPTION"
)

// DeletionEvent 类目域的删除事件，字段名与category服务的生产者保持一致
type DeletionEvent struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// TypeUpdateEvent 类目投票模式变更事件
type TypeUpdateEvent struct {
	CategoryID int64  `json:"categoryId"`
	NewType    string `json:"newType"`
}
