package model

import "time"

// VKUser 当前 token 对应的用户信息
type VKUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Photo100  string `json:"photo_100"`
}

// Session 一次 token 登录产生的会话
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	User      VKUser    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}
