package dto

import "time"

// RegisterReq 注册请求体
type RegisterReq struct {
	Username string `json:"username" binding:"required,min=2,max=50"`
	Password string `json:"password" binding:"required,min=6,max=64"`
}

// LoginReq 登录请求体
type LoginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginDTO 登录响应
type LoginDTO struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// UserDTO 用户信息响应
type UserDTO struct {
	ID       uint64    `json:"id"`
	Username string    `json:"username"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}
