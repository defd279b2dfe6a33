package model

// UserRole 由签发 JWT 的认证服务决定，本服务只消费
type UserRole string

const (
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)
