package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/authgate/internal/model"
)

// --- モック定義 ---

type mockCommentService struct {
	editFn   func(ctx context.Context, identity *model.Identity, commentID, content string) (*model.Comment, error)
	deleteFn func(ctx context.Context, identity *model.Identity, commentID string) error
	voteFn   func(ctx context.Context, identity *model.Identity, commentID string, voteType model.VoteType) (model.VoteAction, error)
}

func (m *mockCommentService) EditComment(ctx context.Context, identity *model.Identity, commentID, content string) (*model.Comment, error) {
	if m.editFn != nil {
		return m.editFn(ctx, identity, commentID, content)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCommentService) SoftDeleteComment(ctx context.Context, identity *model.Identity, commentID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, identity, commentID)
	}
	return nil
}

func (m *mockCommentService) Vote(ctx context.Context, identity *model.Identity, commentID string, voteType model.VoteType) (model.VoteAction, error) {
	if m.voteFn != nil {
		return m.voteFn(ctx, identity, commentID, voteType)
	}
	return "", errors.New("not implemented")
}

func commentRequest(method, target, body, id string) *http.Request {
	req := jsonRequest(method, target, body)
	req = withURLParam(req, "id", id)
	return withIdentity(req, testIdentity())
}

// --- PUT /comments/{id} ---

func TestCommentHandler_EditComment_Success(t *testing.T) {
	svc := &mockCommentService{
		editFn: func(ctx context.Context, identity *model.Identity, commentID, content string) (*model.Comment, error) {
			assert.Equal(t, testUserID, identity.ID)
			assert.Equal(t, testComment, commentID)
			return &model.Comment{ID: commentID, UserID: identity.ID, Content: content, IsEdited: true}, nil
		},
	}
	h := NewCommentHandler(svc)

	w := httptest.NewRecorder()
	h.EditComment(w, commentRequest(http.MethodPut, "/comments/"+testComment, `{"content":"updated"}`, testComment))

	require.Equal(t, http.StatusOK, w.Code)
	var body editCommentResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Success)
	require.NotNil(t, body.Comment)
	assert.Equal(t, "updated", body.Comment.Content)
	assert.True(t, body.Comment.IsEdited)
}

func TestCommentHandler_EditComment_Errors(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid id", "not-a-uuid", `{"content":"x"}`, nil, http.StatusBadRequest, model.ErrCodeInvalidID},
		{"invalid body", testComment, `content`, nil, http.StatusBadRequest, model.ErrCodeInvalidBody},
		{"empty content", testComment, `{"content":"   "}`, model.NewValidationError(model.ErrCodeEmptyContent, "Content is required"), http.StatusBadRequest, model.ErrCodeEmptyContent},
		{"not owner", testComment, `{"content":"x"}`, model.NewNotOwnerError(), http.StatusForbidden, model.ErrCodeNotOwner},
		{"not found", testComment, `{"content":"x"}`, model.NewNotFoundError("Comment"), http.StatusNotFound, model.ErrCodeNotFound},
		{"internal", testComment, `{"content":"x"}`, errors.New("pq: connection reset"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockCommentService{
				editFn: func(ctx context.Context, identity *model.Identity, commentID, content string) (*model.Comment, error) {
					called = true
					return nil, tt.err
				},
			}
			h := NewCommentHandler(svc)

			w := httptest.NewRecorder()
			h.EditComment(w, commentRequest(http.MethodPut, "/comments/"+tt.id, tt.body, tt.id))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeErrorBody(t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, body.Error, "pq:")
			assert.Equal(t, tt.err != nil, called)
		})
	}
}

func TestCommentHandler_EditComment_Unauthenticated(t *testing.T) {
	h := NewCommentHandler(&mockCommentService{})

	req := withURLParam(jsonRequest(http.MethodPut, "/comments/"+testComment, `{"content":"x"}`), "id", testComment)
	w := httptest.NewRecorder()
	h.EditComment(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- DELETE /comments/{id} ---

func TestCommentHandler_DeleteComment_Success(t *testing.T) {
	deleted := ""
	svc := &mockCommentService{
		deleteFn: func(ctx context.Context, identity *model.Identity, commentID string) error {
			deleted = commentID
			return nil
		},
	}
	h := NewCommentHandler(svc)

	w := httptest.NewRecorder()
	h.DeleteComment(w, commentRequest(http.MethodDelete, "/comments/"+testComment, "", testComment))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, testComment, deleted)
}

func TestCommentHandler_DeleteComment_NotOwner(t *testing.T) {
	svc := &mockCommentService{
		deleteFn: func(ctx context.Context, identity *model.Identity, commentID string) error {
			return model.NewNotOwnerError()
		},
	}
	h := NewCommentHandler(svc)

	w := httptest.NewRecorder()
	h.DeleteComment(w, commentRequest(http.MethodDelete, "/comments/"+testComment, "", testComment))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, model.ErrCodeNotOwner, decodeErrorBody(t, w).Code)
}

// --- POST /comments/{id}/vote ---

func TestCommentHandler_Vote_Success(t *testing.T) {
	svc := &mockCommentService{
		voteFn: func(ctx context.Context, identity *model.Identity, commentID string, voteType model.VoteType) (model.VoteAction, error) {
			assert.Equal(t, model.VoteUp, voteType)
			return model.VoteAdded, nil
		},
	}
	h := NewCommentHandler(svc)

	w := httptest.NewRecorder()
	h.Vote(w, commentRequest(http.MethodPost, "/comments/"+testComment+"/vote", `{"voteType":"upvote"}`, testComment))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"action":"added"}`, w.Body.String())
}

func TestCommentHandler_Vote_InvalidType(t *testing.T) {
	svc := &mockCommentService{
		voteFn: func(ctx context.Context, identity *model.Identity, commentID string, voteType model.VoteType) (model.VoteAction, error) {
			return "", model.NewValidationError(model.ErrCodeInvalidVoteType, "voteType must be upvote or downvote")
		},
	}
	h := NewCommentHandler(svc)

	w := httptest.NewRecorder()
	h.Vote(w, commentRequest(http.MethodPost, "/comments/"+testComment+"/vote", `{"voteType":"sideways"}`, testComment))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrCodeInvalidVoteType, decodeErrorBody(t, w).Code)
}
