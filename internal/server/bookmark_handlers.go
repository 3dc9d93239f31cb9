package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/search"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListBookmarks(c *gin.Context) {
	var query listBookmarksQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	mode, err := search.ParseMode(query.Mode)
	if err != nil {
		h.writeError(c, "list_bookmarks", err)
		return
	}
	ownerID := c.GetString(ownerIDContextKey)
	page := bookmarks.Page{Number: query.Page, Size: query.PageSize}
	tagNames := splitTags(query.Tags)

	var result bookmarks.ListResult
	if len(tagNames) == 0 && strings.TrimSpace(query.Text) == "" {
		result, err = h.bookmarks.List(c.Request.Context(), ownerID, page)
	} else {
		result, err = h.search.Combined(c.Request.Context(), search.Query{
			OwnerID: ownerID,
			Tags:    tagNames,
			Mode:    mode,
			Text:    query.Text,
			Page:    page,
		})
	}
	if err != nil {
		h.writeError(c, "list_bookmarks", err)
		return
	}
	c.JSON(http.StatusOK, bookmarkListPayload{Items: newBookmarkPayloads(result.Items), Total: result.Total})
}

func (h *httpHandler) handleCreateBookmark(c *gin.Context) {
	var request createBookmarkRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBindingError(c, err)
		return
	}
	created, err := h.bookmarks.Create(c.Request.Context(), c.GetString(ownerIDContextKey), bookmarks.Draft{
		URL:         request.URL,
		Title:       request.Title,
		Description: request.Description,
		Tags:        request.Tags,
	})
	if err != nil {
		h.writeError(c, "create_bookmark", err)
		return
	}
	c.JSON(http.StatusCreated, newBookmarkPayload(created))
}

func (h *httpHandler) handleBookmarksByTag(c *gin.Context) {
	var query bookmarksByTagQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	items, err := h.search.ByTag(c.Request.Context(), c.GetString(ownerIDContextKey), []string{query.Tag}, search.ModeAll)
	if err != nil {
		h.writeError(c, "bookmarks_by_tag", err)
		return
	}
	c.JSON(http.StatusOK, newBookmarkPayloads(items))
}

func (h *httpHandler) handleBookmarksByText(c *gin.Context) {
	var query bookmarksByTextQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	items, err := h.search.ByText(c.Request.Context(), c.GetString(ownerIDContextKey), query.Text)
	if err != nil {
		h.writeError(c, "bookmarks_by_text", err)
		return
	}
	c.JSON(http.StatusOK, newBookmarkPayloads(items))
}

func (h *httpHandler) handleUpdateBookmark(c *gin.Context) {
	var request updateBookmarkRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBindingError(c, err)
		return
	}
	updated, err := h.bookmarks.Update(c.Request.Context(), c.GetString(ownerIDContextKey), c.Param("id"), bookmarks.Fields{
		URL:         request.URL,
		Title:       request.Title,
		Description: request.Description,
		Tags:        request.Tags,
	})
	if err != nil {
		h.writeError(c, "update_bookmark", err)
		return
	}
	c.JSON(http.StatusOK, newBookmarkPayload(updated))
}

func (h *httpHandler) handleDeleteBookmark(c *gin.Context) {
	if err := h.bookmarks.Delete(c.Request.Context(), c.GetString(ownerIDContextKey), c.Param("id")); err != nil {
		h.writeError(c, "delete_bookmark", err)
		return
	}
	c.Status(http.StatusNoContent)
}
