package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nottu-serverless/internal/auth"
	"nottu-serverless/internal/observability"
	"nottu-serverless/internal/user"
)

type fakeUsers struct {
	photo     *string
	updateErr error
	replaced  []*string
}

func (f *fakeUsers) UpdateName(_ context.Context, id, name string) (user.User, error) {
	if f.updateErr != nil {
		return user.User{}, f.updateErr
	}
	return user.User{ID: id, Email: "a@x.com", Name: name, ProfilePhoto: f.photo}, nil
}

func (f *fakeUsers) ReplacePhoto(_ context.Context, _ string, ref *string) (*string, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	previous := f.photo
	f.photo = ref
	f.replaced = append(f.replaced, ref)
	return previous, nil
}

type fakePhotos struct {
	putErr  error
	put     []string
	deleted []string
}

func (f *fakePhotos) PutPhoto(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.put = append(f.put, key)
	return "s3://photos/" + key, nil
}

func (f *fakePhotos) DeletePhoto(_ context.Context, ref string) error {
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakePhotos) ResolvePhotoURL(_ context.Context, ref string) (string, error) {
	return "https://signed.example/" + strings.TrimPrefix(ref, "s3://"), nil
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		User user.Profile `json:"user"`
	} `json:"data"`
}

func serve(t *testing.T, handler http.HandlerFunc, req *http.Request) (int, response) {
	t.Helper()
	current := user.User{ID: "user-1", Email: "a@x.com", Name: "Alice"}
	req = req.WithContext(auth.WithUser(req.Context(), current))
	rec := httptest.NewRecorder()
	handler(rec, req)

	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func photoRequest(t *testing.T, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="photo"; filename="me.png"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPut, "/profile/photo", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUpdateName(t *testing.T) {
	h := NewHandler(&fakeUsers{}, &fakePhotos{}, observability.NewNopLogger())

	status, body := serve(t, h.UpdateName, httptest.NewRequest(http.MethodPut, "/profile/name", strings.NewReader(`{"name":" Alicia "}`)))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Name updated successfully.", body.Message)
	assert.Equal(t, "Alicia", body.Data.User.Name)
	assert.Nil(t, body.Data.User.ProfilePhoto)
}

func TestUpdateNameRejectsBlank(t *testing.T) {
	h := NewHandler(&fakeUsers{}, &fakePhotos{}, observability.NewNopLogger())

	status, body := serve(t, h.UpdateName, httptest.NewRequest(http.MethodPut, "/profile/name", strings.NewReader(`{"name":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Please provide a valid name.", body.Message)
}

func TestUpdateNameStoreFailure(t *testing.T) {
	h := NewHandler(&fakeUsers{updateErr: errors.New("db down")}, &fakePhotos{}, observability.NewNopLogger())

	status, body := serve(t, h.UpdateName, httptest.NewRequest(http.MethodPut, "/profile/name", strings.NewReader(`{"name":"Al"}`)))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Server error during name update.", body.Message)
}

func TestUpdatePhotoReplacesPreviousObject(t *testing.T) {
	old := "s3://photos/profile-photos/user-1/old.png"
	users := &fakeUsers{photo: &old}
	photos := &fakePhotos{}
	h := NewHandler(users, photos, observability.NewNopLogger())

	status, body := serve(t, h.UpdatePhoto, photoRequest(t, "image/png", []byte("png-bytes")))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Photo updated successfully.", body.Message)

	require.Len(t, photos.put, 1)
	assert.True(t, strings.HasPrefix(photos.put[0], "profile-photos/user-1/"))
	assert.True(t, strings.HasSuffix(photos.put[0], ".png"))
	assert.Equal(t, []string{old}, photos.deleted)

	require.NotNil(t, body.Data.User.ProfilePhoto)
	assert.Equal(t, "https://signed.example/photos/"+photos.put[0], *body.Data.User.ProfilePhoto)
}

func TestUpdatePhotoRejectsUnsupportedType(t *testing.T) {
	photos := &fakePhotos{}
	h := NewHandler(&fakeUsers{}, photos, observability.NewNopLogger())

	status, body := serve(t, h.UpdatePhoto, photoRequest(t, "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid file type. Only JPEG, PNG, GIF, and WebP are allowed.", body.Message)
	assert.Empty(t, photos.put)
}

func TestUpdatePhotoStorageFailure(t *testing.T) {
	h := NewHandler(&fakeUsers{}, &fakePhotos{putErr: errors.New("bucket missing")}, observability.NewNopLogger())

	status, body := serve(t, h.UpdatePhoto, photoRequest(t, "image/jpeg", []byte("jpg")))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Server error during photo upload.", body.Message)
}

func TestDeletePhoto(t *testing.T) {
	old := "s3://photos/profile-photos/user-1/old.png"
	users := &fakeUsers{photo: &old}
	photos := &fakePhotos{}
	h := NewHandler(users, photos, observability.NewNopLogger())

	status, body := serve(t, h.DeletePhoto, httptest.NewRequest(http.MethodDelete, "/profile/photo", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Photo deleted successfully.", body.Message)
	assert.Nil(t, body.Data.User.ProfilePhoto)
	assert.Equal(t, []string{old}, photos.deleted)
	assert.Nil(t, users.photo)
}
