package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKey(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"1", "7", "1_7"},
		{"7", "1", "1_7"},
		{"10", "9", "9_10"},
		{"alice", "bob", "alice_bob"},
		{"bob", "alice", "alice_bob"},
		{"12", "abc", "12_abc"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ConversationKey(tt.a, tt.b))
		})
	}
}

func TestParseConversationKey(t *testing.T) {
	low, high, err := ParseConversationKey("1_7")
	require.NoError(t, err)
	assert.Equal(t, "1", low)
	assert.Equal(t, "7", high)

	for _, bad := range []string{"", "17", "_7", "1_"} {
		_, _, err := ParseConversationKey(bad)
		assert.ErrorIs(t, err, ErrInvalidConversation, bad)
	}
}

func TestPeerAndParticipant(t *testing.T) {
	assert.Equal(t, "1", Peer("1_7", "7"))
	assert.Equal(t, "7", Peer("1_7", "1"))
	assert.Equal(t, "", Peer("1_7", "3"))

	assert.True(t, Participant("1_7", "7"))
	assert.False(t, Participant("1_7", "17"))
}

func TestPreviewFor(t *testing.T) {
	fromPeer := ChatMessage{ConversationID: "1_7", SenderID: "1", RecipientID: "7",
		SenderName: "Support", SenderAvatar: "a.png", Content: "Hi", Timestamp: "t1", Type: TypeText}
	p := PreviewFor("7", fromPeer)
	assert.Equal(t, ConversationPreview{ID: "1_7", SenderID: "1", Name: "Support", Avatar: "a.png",
		LastMessage: "Hi", Time: "t1", IsOnline: true}, p)

	own := ChatMessage{ConversationID: "1_7", SenderID: "7", SenderName: "Me", Content: "https://x", Type: TypeImage}
	p = PreviewFor("7", own)
	assert.Equal(t, "1", p.SenderID)
	assert.Empty(t, p.Name)
	assert.Equal(t, ImagePreviewText, p.LastMessage)
}
