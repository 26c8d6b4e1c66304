package service

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/require"

	"aichatpal/model"
)

func msg(role, content string) model.Message {
	return model.Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

func TestBuildContentsSingleUserTurn(t *testing.T) {
	contents := BuildContents(nil, "hello", true, nil)

	require.Len(t, contents, 1)
	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, genai.Text("hello"), contents[0].Parts[0])
}

func TestBuildContentsRoleMapping(t *testing.T) {
	history := []model.Message{
		msg(model.RoleUser, "question"),
		msg(model.RoleAssistant, "answer"),
	}
	contents := BuildContents(history, "follow up", true, nil)

	require.Len(t, contents, 3)
	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, "model", contents[1].Role)
	require.Equal(t, "user", contents[2].Role)
}

func TestBuildContentsWindowCap(t *testing.T) {
	contents := BuildContents(makeHistory(30), "", false, nil)
	require.Len(t, contents, HistoryMaxMessages)
	require.Equal(t, genai.Text("message 10"), contents[0].Parts[0])
}

func TestBuildContentsAttachmentsOnTrailingUserTurn(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47})
	atts := []Attachment{{Name: "pic.png", Mime: "image/png", Data: payload}}

	history := []model.Message{
		msg(model.RoleAssistant, "earlier answer"),
		msg(model.RoleUser, "see attached"),
	}
	contents := BuildContents(history, "", false, atts)

	require.Len(t, contents, 2)
	last := contents[len(contents)-1]
	require.Len(t, last.Parts, 2)
	blob, ok := last.Parts[1].(genai.Blob)
	require.True(t, ok)
	require.Equal(t, "image/png", blob.MIMEType)
	require.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, blob.Data)
}

func TestBuildContentsAttachmentsFollowLatestText(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("doc"))
	atts := []Attachment{{Name: "a.txt", Data: payload}}

	history := []model.Message{msg(model.RoleUser, "old turn")}
	contents := BuildContents(history, "new turn", true, atts)

	require.Len(t, contents, 2)
	// the old turn must not pick up the attachment
	require.Len(t, contents[0].Parts, 1)
	require.Len(t, contents[1].Parts, 2)
	blob := contents[1].Parts[1].(genai.Blob)
	require.Equal(t, "application/octet-stream", blob.MIMEType)
}

func TestBuildContentsSkipsUndecodableAttachments(t *testing.T) {
	atts := []Attachment{
		{Name: "empty.bin", Data: ""},
		{Name: "junk.bin", Data: "%%%not base64%%%"},
	}
	contents := BuildContents(nil, "hello", true, atts)

	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 1)
}

func TestBuildContentsNoAttachmentOnModelTurn(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("doc"))
	atts := []Attachment{{Name: "a.txt", Data: payload}}

	history := []model.Message{
		msg(model.RoleUser, "question"),
		msg(model.RoleAssistant, "answer"),
	}
	contents := BuildContents(history, "", false, atts)

	require.Len(t, contents, 2)
	require.Len(t, contents[1].Parts, 1)
}
