package service

import (
	"encoding/base64"

	"github.com/google/generative-ai-go/genai"

	"aichatpal/model"
)

// Attachment is an inline binary part supplied with a message, payload still
// base64-encoded as received from the client.
type Attachment struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int    `json:"size"`
	Data string `json:"data"`
}

// BuildContents turns a history window plus an optional new user turn and
// attachments into the turn sequence the provider expects. Stored "assistant"
// messages map to provider role "model"; everything else maps to "user".
// Attachments attach to the trailing user turn: the separately supplied
// latestText turn when present, otherwise the last turn of the window if that
// turn is a user turn. Attachments without a decodable payload are skipped;
// size limits are enforced upstream, not here.
func BuildContents(history []model.Message, latestText string, hasLatest bool, attachments []Attachment) []*genai.Content {
	window := history
	if len(window) > HistoryMaxMessages {
		window = window[len(window)-HistoryMaxMessages:]
	}

	contents := make([]*genai.Content, 0, len(window)+1)
	for i, msg := range window {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		parts := []genai.Part{genai.Text(msg.Content)}
		if i == len(window)-1 && role == "user" && !hasLatest {
			parts = append(parts, attachmentParts(attachments)...)
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	if hasLatest {
		parts := []genai.Part{genai.Text(latestText)}
		parts = append(parts, attachmentParts(attachments)...)
		contents = append(contents, &genai.Content{Role: "user", Parts: parts})
	}
	return contents
}

func attachmentParts(attachments []Attachment) []genai.Part {
	var parts []genai.Part
	for _, att := range attachments {
		if att.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			continue
		}
		mime := att.Mime
		if mime == "" {
			mime = "application/octet-stream"
		}
		parts = append(parts, genai.Blob{MIMEType: mime, Data: data})
	}
	return parts
}
