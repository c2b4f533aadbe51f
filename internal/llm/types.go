package llm

import "encoding/base64"

// Role identifies who authored a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Content part types understood by vision-capable models.
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
)

// Message is a single turn in a conversation. Content is either a plain
// string or, for the vision path, a slice of ContentPart.
type Message struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

// ContentPart is one piece of a mixed-content user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image, either remote or as an inline data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// System constructs a system message with plain text content.
func System(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// User constructs a user message with plain text content.
func User(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// UserParts constructs a user message with mixed content parts.
func UserParts(parts ...ContentPart) Message {
	return Message{Role: RoleUser, Content: parts}
}

// TextPart wraps text as a content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: text}
}

// ImagePart wraps an image URL or data URI as a content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: ContentTypeImageURL, ImageURL: &ImageURL{URL: url}}
}

// DataURI encodes raw bytes as an inline data URI with the given MIME type.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
