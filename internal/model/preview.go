package model

// ConversationPreview is the summarized per-conversation state shown in a
// conversation list. It is derived from delivered messages and owned by the
// preview store.
type ConversationPreview struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	LastMessage string `json:"lastMessage"`
	Time        string `json:"time"`
	UnreadCount int    `json:"unreadCount"`
	IsOnline    bool   `json:"isOnline"`
}

// ImagePreviewText is shown as the last message for image messages.
const ImagePreviewText = "[Image]"

// PreviewFor projects a delivered message into a preview update from the
// point of view of owner. Name and Avatar are only filled when the message
// came from the peer, since our own snapshot says nothing about them.
func PreviewFor(owner string, m ChatMessage) ConversationPreview {
	p := ConversationPreview{
		ID:          m.ConversationID,
		SenderID:    Peer(m.ConversationID, owner),
		LastMessage: m.Content,
		Time:        m.Timestamp,
	}
	if m.Type == TypeImage {
		p.LastMessage = ImagePreviewText
	}
	if m.SenderID.String() != owner {
		p.SenderID = m.SenderID.String()
		p.Name = m.SenderName
		p.Avatar = m.SenderAvatar
		p.IsOnline = true
	}
	return p
}
