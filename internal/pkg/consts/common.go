package consts

const (
	// 消息类型
	MsgTypeText  = "text"
	MsgTypeImage = "image"
	MsgTypeAudio = "audio"

	// 消息投递状态
	MsgStatusSent = "sent"
	MsgStatusRead = "read"
)

const (
	// 输入状态自动过期窗口 (ms)，配置缺省值
	DefaultTypingTimeoutMs = 3000

	// 历史消息默认分页大小
	DefaultHistoryPageSize = 20
)
