//go:build cgo

package service

// The ODBC driver binds to the system driver manager and needs cgo.
import _ "github.com/alexbrainman/odbc"
