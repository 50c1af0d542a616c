// Package logx wraps zerolog behind a small structured-logging API.
//
// Components hold a Logger (cheap value, safe zero value) and the app holds
// the Service, which owns sinks and supports live reconfiguration via Apply.
package logx
