package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/johndosdos/supportchat/internal/model"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"", command{kind: cmdNone}},
		{"   ", command{kind: cmdNone}},
		{"hello there", command{kind: cmdText, arg: "hello there"}},
		{"/switch 7", command{kind: cmdSwitch, arg: "7"}},
		{"/switch", command{kind: cmdInvalid, arg: "usage: /switch <peer>"}},
		{"/image http://img/1.png", command{kind: cmdImage, arg: "http://img/1.png"}},
		{"/image ", command{kind: cmdInvalid, arg: "usage: /image <url>"}},
		{"/quit", command{kind: cmdQuit}},
		{"/dance", command{kind: cmdInvalid, arg: "unknown command /dance"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLine(tt.line))
		})
	}
}

func TestPrintMessage(t *testing.T) {
	ts := model.FormatTimestamp(time.Date(2024, 1, 1, 9, 30, 0, 0, time.Local))

	var buf bytes.Buffer
	printMessage(&buf, "1", model.ChatMessage{SenderID: "7", SenderName: "Ann", Content: "hi", Type: model.TypeText, Timestamp: ts})
	printMessage(&buf, "1", model.ChatMessage{SenderID: "1", Content: "http://img", Type: model.TypeImage, Timestamp: ts})

	assert.Equal(t, "[09:30] Ann: hi\n[09:30] you sent an image: http://img\n", buf.String())
}
