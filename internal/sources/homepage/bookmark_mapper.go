package homepage

import (
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// BookmarkMapper converts Homepage bookmark config to bookmark drafts
type BookmarkMapper struct{}

// NewBookmarkMapper creates a new bookmark mapper
func NewBookmarkMapper() *BookmarkMapper {
	return &BookmarkMapper{}
}

// MapDrafts converts BookmarksConfig to drafts owned by ownerID, in document
// order. Entries without href are skipped, as are repeated URLs.
func (m *BookmarkMapper) MapDrafts(config BookmarksConfig, ownerID string) ([]domain.Draft, error) {
	drafts := make([]domain.Draft, 0)
	seen := make(map[string]bool)

	for _, category := range config {
		for _, categoryName := range sortedKeys(category) {
			for _, bookmarkMap := range category[categoryName] {
				for _, bookmarkName := range sortedKeys(bookmarkMap) {
					entryList := bookmarkMap[bookmarkName]
					// Each bookmark has a list with a single entry
					if len(entryList) == 0 {
						continue
					}
					entry := entryList[0]

					href := strings.TrimSpace(entry.Href)
					if href == "" || seen[href] {
						continue
					}
					seen[href] = true

					title := strings.TrimSpace(bookmarkName)
					if title == "" {
						title = entry.Abbr
					}

					drafts = append(drafts, domain.Draft{
						Title:   title,
						URL:     href,
						OwnerID: ownerID,
					})
				}
			}
		}
	}

	if len(drafts) == 0 {
		return nil, fmt.Errorf("no valid bookmarks found in config")
	}

	return drafts, nil
}
