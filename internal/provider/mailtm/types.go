package mailtm

import "time"

// collection 是 mail.tm 返回的 Hydra 集合结构
type collection[T any] struct {
	Members    []T `json:"hydra:member"`
	TotalItems int `json:"hydra:totalItems"`
}

type domainResource struct {
	ID       string `json:"id"`
	Domain   string `json:"domain"`
	IsActive bool   `json:"isActive"`
}

type accountRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

type accountResource struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

type tokenResource struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type addressResource struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type messageResource struct {
	ID        string            `json:"id"`
	From      *addressResource  `json:"from"`
	To        []addressResource `json:"to"`
	Subject   string            `json:"subject"`
	Intro     string            `json:"intro"`
	Seen      bool              `json:"seen"`
	CreatedAt time.Time         `json:"createdAt"`
	Text      string            `json:"text,omitempty"`
	HTML      []string          `json:"html,omitempty"`
}

// problem 是 mail.tm 的错误响应
type problem struct {
	Detail      string `json:"detail"`
	Description string `json:"hydra:description"`
	Message     string `json:"message"`
}

func (p problem) text() string {
	switch {
	case p.Detail != "":
		return p.Detail
	case p.Description != "":
		return p.Description
	default:
		return p.Message
	}
}
