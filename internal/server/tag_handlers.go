package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListTags(c *gin.Context) {
	var query tagQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	h.respondWithSuggestions(c, query.Prefix, query.Limit)
}

func (h *httpHandler) handleAutocomplete(c *gin.Context) {
	var query autocompleteQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	h.respondWithSuggestions(c, query.Query, query.Limit)
}

func (h *httpHandler) handleTagByPath(c *gin.Context) {
	var query tagQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	h.respondWithSuggestions(c, c.Param("tag"), query.Limit)
}

func (h *httpHandler) respondWithSuggestions(c *gin.Context, prefix string, limit int) {
	ownerID := c.GetString(ownerIDContextKey)
	suggestions, err := h.tags.Autocomplete(c.Request.Context(), ownerID, prefix, limit)
	if err != nil {
		h.writeError(c, "autocomplete_tags", err)
		return
	}
	c.JSON(http.StatusOK, newTagPayloads(suggestions))
}
