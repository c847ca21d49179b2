// Package demo is a small application used to exercise syncore end to
// end: a root connector with a button, a label counting its clicks and a
// clock label that a background goroutine updates once a second.
//
// The button implements demo.ButtonServerRpc.click; each click updates the
// label and calls demo.LabelClientRpc.highlight on its client half. The
// type metadata of the connectors is served from embedded bundle files.
package demo
