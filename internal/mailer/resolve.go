package mailer

import "keymanager/internal/models"

// Config is the effective SMTP configuration after applying the override
// chain. An empty Host is a valid result; callers must check it before
// attempting a connection.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

// Resolve merges up to three configuration tiers field by field, in strict
// precedence order: per-request values, the acting user's stored override,
// then the system defaults. It never fails; fields absent at every tier
// resolve to their zero value, except UseTLS which defaults to true.
func Resolve(request, user, system models.SMTPSettings) Config {
	return Config{
		Host:     pickString(request.Host, user.Host, system.Host),
		Port:     pickInt(request.Port, user.Port, system.Port),
		Username: pickString(request.Username, user.Username, system.Username),
		Password: pickString(request.Password, user.Password, system.Password),
		From:     pickString(request.From, user.From, system.From),
		UseTLS:   pickBool(request.UseTLS, user.UseTLS, system.UseTLS),
	}
}

func pickString(tiers ...*string) string {
	for _, v := range tiers {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func pickInt(tiers ...*int) int {
	for _, v := range tiers {
		if v != nil && *v != 0 {
			return *v
		}
	}
	return 0
}

func pickBool(tiers ...*bool) bool {
	for _, v := range tiers {
		if v != nil {
			return *v
		}
	}
	return true
}
