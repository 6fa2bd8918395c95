package vk

import (
	"context"
	"errors"
	"net/url"

	"VKSaver/model"
)

// ErrNoProfile users.get 没有返回任何用户
var ErrNoProfile = errors.New("vk: no user profile for token")

// GetCurrentUser 获取 token 所属用户
func (c *Client) GetCurrentUser(ctx context.Context, token string) (*model.VKUser, error) {
	params := url.Values{}
	params.Set("fields", "photo_100,first_name,last_name")

	var users []model.VKUser
	if err := c.call(ctx, token, "users.get", params, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNoProfile
	}
	return &users[0], nil
}

// CheckProfile 用 account.getProfileInfo 验证 token 是否可用
func (c *Client) CheckProfile(ctx context.Context, token string) error {
	return c.call(ctx, token, "account.getProfileInfo", nil, nil)
}
