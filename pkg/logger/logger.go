package logger

import (
	"log"
)

// Initialize logging flags (called once from main)
func Init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func Infof(format string, v ...any) {
	log.Printf("[INFO] "+format, v...)
}

func Warnf(format string, v ...any) {
	log.Printf("[WARN] "+format, v...)
}

func Errorf(format string, v ...any) {
	log.Printf("[ERROR] "+format, v...)
}

func Debugf(format string, v ...any) {
	log.Printf("[DEBUG] "+format, v...)
}

func Fatalf(format string, v ...any) {
	log.Fatalf("[FATAL] "+format, v...)
}

// TenantLogger scopes log lines to one tenant so worker and webhook output
// can be grepped per account.
type TenantLogger struct {
	name string
}

func Tenant(name string) *TenantLogger {
	return &TenantLogger{name: name}
}

func (l *TenantLogger) Infof(format string, v ...any) {
	Infof("[tenant:"+l.name+"] "+format, v...)
}

func (l *TenantLogger) Warnf(format string, v ...any) {
	Warnf("[tenant:"+l.name+"] "+format, v...)
}

func (l *TenantLogger) Errorf(format string, v ...any) {
	Errorf("[tenant:"+l.name+"] "+format, v...)
}
