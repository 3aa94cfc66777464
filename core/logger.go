package core

// Logger is implemented by every logging service.
// expected args: error | map[string]interface{} | Identity
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Identity is implemented by values a Logger can attach to a report as the acting person/organization.
type Identity interface {
	LogIdentity() (id, name, email string)
}
