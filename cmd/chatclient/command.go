package main

import "strings"

type commandKind int

const (
	cmdNone commandKind = iota
	cmdText
	cmdImage
	cmdSwitch
	cmdQuit
	cmdInvalid
)

type command struct {
	kind commandKind
	// arg is the message content, the peer id, or an error description.
	arg string
}

func parseLine(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdText, arg: line}
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit":
		return command{kind: cmdQuit}
	case "/switch":
		if arg == "" {
			return command{kind: cmdInvalid, arg: "usage: /switch <peer>"}
		}
		return command{kind: cmdSwitch, arg: arg}
	case "/image":
		if arg == "" {
			return command{kind: cmdInvalid, arg: "usage: /image <url>"}
		}
		return command{kind: cmdImage, arg: arg}
	default:
		return command{kind: cmdInvalid, arg: "unknown command " + name}
	}
}
