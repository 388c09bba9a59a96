package consts

const (
	// 会话广播频道前缀，后接会话 ID
	ChatConversationKey = "chat:conv:"
	// 全局在线状态广播频道
	ChatPresenceKey = "chat:presence"
	// 会话频道的订阅通配
	ChatConversationPattern = "chat:conv:*"

	// 在线用户集合 (跨实例共享快照)
	PresenceOnlineSetKey = "presence:online"
)

const (
	// 已吊销 Token 签名黑名单前缀
	TokenRevokedKey = "token:revoked:"
)
