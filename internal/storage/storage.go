package storage

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryExists   = errors.New("category already exists")
	ErrLicenseNotFound  = errors.New("license not found")
	ErrLicenseKeyExists = errors.New("license key already exists")
)
