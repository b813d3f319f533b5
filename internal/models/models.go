package models

import "time"

type Category struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	Icon *string `json:"icon,omitempty"`
}

type License struct {
	ID          int64      `json:"id"`
	CategoryID  int64      `json:"category_id"`
	ProductName string     `json:"product_name"`
	Edition     *string    `json:"edition,omitempty"`
	Vendor      *string    `json:"vendor,omitempty"`
	Version     *string    `json:"version,omitempty"`
	LicenseKey  string     `json:"license_key"`
	ISOURL      *string    `json:"iso_url,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// CategoryName is populated on single-license reads via a join.
	CategoryName string `json:"-"`
}

// LicensePatch carries only the fields the caller supplied; nil means
// "leave unchanged".
type LicensePatch struct {
	ProductName *string
	Edition     *string
	Vendor      *string
	Version     *string
	LicenseKey  *string
	ISOURL      *string
}

type User struct {
	ID        int64
	Username  string
	Email     *string
	FullName  *string
	PassHash  []byte
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	SMTP      SMTPSettings
}

type UserPatch struct {
	Username *string
	Email    *string
	FullName *string
	IsActive *bool
}

// SMTPSettings is one tier of the mail configuration override chain.
// Every field is optional; nil (and for strings, empty) means the tier
// does not override that field.
type SMTPSettings struct {
	Host     *string
	Port     *int
	Username *string
	Password *string
	From     *string
	UseTLS   *bool
}
