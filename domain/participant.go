// Package domain contains core concepts of the conversation system.
// This file defines users and the public profile shown next to a conversation.
package domain

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)

type User struct {
	ID           UserID
	Email        string
	PasswordHash string
	Roles        []Role
	FullName     string
	AvatarURL    *string
	CreatedAt    time.Time
}

type Profile struct {
	FullName  string
	AvatarURL *string
}

func (u User) Profile() Profile {
	return Profile{FullName: u.FullName, AvatarURL: u.AvatarURL}
}
