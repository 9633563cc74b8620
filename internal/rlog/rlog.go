// Package rlog provides the bracket-tagged, bare-Printf loggers used
// throughout this module, in the style the teacher repo logs with
// ("[GC] deleted %d untagged manifests", "[DB] ...") rather than a
// structured logging library.
package rlog

import (
	"log"
	"os"
)

func tagged(tag string) *log.Logger {
	return log.New(os.Stderr, "["+tag+"] ", log.LstdFlags)
}

var (
	Server  = tagged("SERVER")
	Users   = tagged("USERS")
	Storage = tagged("STORAGE")
	GC      = tagged("GC")
	Admin   = tagged("ADMIN")
)
