package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"testing"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/require"

	"github.com/karyadesign/karya-api/internal/dto"
	"github.com/karyadesign/karya-api/internal/models"
)

type storageStub struct {
	uploads map[string][]byte
	err     error
}

func (s *storageStub) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
	}
	s.uploads[name] = data
	return "https://cdn.example.com/" + name, nil
}

type chatServiceStub struct {
	postedOrderID string
	postedURL     string
	postedName    string
	postErr       error
}

func (s *chatServiceStub) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {}

func (s *chatServiceStub) History(ctx context.Context, actor Actor, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	return nil, nil
}

func (s *chatServiceStub) PostFile(ctx context.Context, actor Actor, orderID, url, fileName string) (dto.ChatMessageResponse, error) {
	if s.postErr != nil {
		return dto.ChatMessageResponse{}, s.postErr
	}
	s.postedOrderID = orderID
	s.postedURL = url
	s.postedName = fileName
	return dto.ChatMessageResponse{
		ID:      "m1",
		OrderID: orderID,
		Content: fileName + "|" + url,
		Type:    models.MessageTypeFile,
	}, nil
}

func (s *chatServiceStub) Start(ctx context.Context) {}

func multipartFile(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(&body, writer.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}

func pngBytes() []byte {
	return append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 64)...)
}

func TestUploadAttachStoresAndPostsMessage(t *testing.T) {
	storage := &storageStub{}
	chat := &chatServiceStub{}
	svc := NewUploadService(storage, chat, 10, testLogger())

	actor := Actor{ID: "designer-1", Name: "Designer", Role: models.RoleDesigner}
	file := multipartFile(t, "Final Draft (v2).PNG", pngBytes())

	result, err := svc.Attach(context.Background(), actor, "order-1", file)
	require.NoError(t, err)
	require.Equal(t, "image/png", result.MimeType)
	require.Equal(t, "final-draft-v2.png", result.FileName)
	require.Equal(t, "https://cdn.example.com/final-draft-v2.png", result.URL)
	require.Equal(t, int64(len(pngBytes())), result.SizeBytes)

	require.Contains(t, storage.uploads, "final-draft-v2.png")
	require.Equal(t, "order-1", chat.postedOrderID)
	require.Equal(t, result.URL, chat.postedURL)
	require.Equal(t, models.MessageTypeFile, result.Message.Type)
}

func TestUploadAttachRejectsOversizedFile(t *testing.T) {
	storage := &storageStub{}
	chat := &chatServiceStub{}
	svc := NewUploadService(storage, chat, 1, testLogger())

	file := multipartFile(t, "huge.png", make([]byte, 1<<20+1))
	_, err := svc.Attach(context.Background(), Actor{ID: "u", Role: models.RoleAdmin}, "order-1", file)
	require.ErrorIs(t, err, ErrUploadTooLarge)
	require.Empty(t, storage.uploads, "oversized payloads never reach storage")
}

func TestUploadAttachRejectsDisallowedType(t *testing.T) {
	storage := &storageStub{}
	chat := &chatServiceStub{}
	svc := NewUploadService(storage, chat, 10, testLogger())

	file := multipartFile(t, "notes.txt", []byte("plain text body"))
	_, err := svc.Attach(context.Background(), Actor{ID: "u", Role: models.RoleAdmin}, "order-1", file)
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)
	require.Empty(t, storage.uploads)
}

func TestUploadAttachRequiresFile(t *testing.T) {
	svc := NewUploadService(&storageStub{}, &chatServiceStub{}, 10, testLogger())
	_, err := svc.Attach(context.Background(), Actor{ID: "u", Role: models.RoleAdmin}, "order-1", nil)
	require.Error(t, err)
}

func TestUploadAttachSurfacesChatFailure(t *testing.T) {
	storage := &storageStub{}
	chat := &chatServiceStub{postErr: errors.New("room unavailable")}
	svc := NewUploadService(storage, chat, 10, testLogger())

	file := multipartFile(t, "draft.png", pngBytes())
	_, err := svc.Attach(context.Background(), Actor{ID: "u", Role: models.RoleDesigner}, "order-1", file)
	require.Error(t, err)
	require.Contains(t, storage.uploads, "draft.png", "asset stays stored even when the message fails")
}

func TestSanitizeFileName(t *testing.T) {
	require.Equal(t, "my-logo.png", sanitizeFileName("My Logo.PNG"))
	require.Equal(t, "brief_v3.pdf", sanitizeFileName("brief_v3.pdf"))
	require.NotEmpty(t, sanitizeFileName("???.zip"))
}
