// Package core provides the foundational components for the rdmnetcore
// connection engine.
//
// This package includes version information, printed by the
// rdmnetclient command.
package core

// VERSION of project.
var VERSION = "undefined" // set during the build process with -ldflags
