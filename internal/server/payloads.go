package server

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	"github.com/MarcoPoloResearchLab/markme/internal/users"
)

type bookmarkPayload struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"createdAt"`
}

type bookmarkListPayload struct {
	Items []bookmarkPayload `json:"items"`
	Total int64             `json:"total"`
}

type tagPayload struct {
	Name       string `json:"name"`
	UsageCount int64  `json:"usageCount"`
}

type userPayload struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type updateUserRequest struct {
	DisplayName *string `json:"displayName" binding:"omitempty,max=320"`
	Email       *string `json:"email" binding:"omitempty,max=320"`
}

type createBookmarkRequest struct {
	URL         string   `json:"url" binding:"required,max=2048"`
	Title       string   `json:"title" binding:"max=2048"`
	Description string   `json:"description" binding:"max=16384"`
	Tags        []string `json:"tags" binding:"max=100,dive,max=256"`
}

type updateBookmarkRequest struct {
	URL         *string   `json:"url" binding:"omitempty,max=2048"`
	Title       *string   `json:"title" binding:"omitempty,max=2048"`
	Description *string   `json:"description" binding:"omitempty,max=16384"`
	Tags        *[]string `json:"tags" binding:"omitempty,max=100"`
}

type tagQuery struct {
	Prefix string `form:"prefix"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

type autocompleteQuery struct {
	Query string `form:"q"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

type listBookmarksQuery struct {
	Tags     string `form:"tags"`
	Mode     string `form:"mode" binding:"omitempty,oneof=all any"`
	Text     string `form:"text" binding:"max=1024"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"pageSize" binding:"omitempty,min=1,max=100"`
}

type bookmarksByTagQuery struct {
	Tag string `form:"tag" binding:"required"`
}

type bookmarksByTextQuery struct {
	Text string `form:"text" binding:"max=1024"`
}

func newBookmarkPayload(bookmark bookmarks.Bookmark) bookmarkPayload {
	tagNames := bookmark.TagNames
	if tagNames == nil {
		tagNames = []string{}
	}
	return bookmarkPayload{
		ID:          bookmark.BookmarkID,
		URL:         bookmark.URL,
		Title:       bookmark.Title,
		Description: bookmark.Description,
		Tags:        tagNames,
		CreatedAt:   bookmark.CreatedAt().Format(time.RFC3339),
	}
}

func newBookmarkPayloads(items []bookmarks.Bookmark) []bookmarkPayload {
	payloads := make([]bookmarkPayload, len(items))
	for i, item := range items {
		payloads[i] = newBookmarkPayload(item)
	}
	return payloads
}

func newTagPayloads(items []tags.Tag) []tagPayload {
	payloads := make([]tagPayload, len(items))
	for i, item := range items {
		payloads[i] = tagPayload{Name: item.Name, UsageCount: item.UsageCount}
	}
	return payloads
}

func newUserPayload(profile users.Identity) userPayload {
	return userPayload{
		ID:          profile.OwnerID,
		Provider:    profile.Provider,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
	}
}

// splitTags reads the comma separated tags query parameter. Blank segments such as the
// one left by a trailing comma are dropped.
func splitTags(raw string) []string {
	var names []string
	for _, segment := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(segment); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
